// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package supervisor builds the suture supervision tree that runs
// Bastion's long-lived services.
//
// The tree has three child supervisors under a single root:
//
//	bastion
//	├── pipeline-layer    event subscriptions, audit recording
//	├── messaging-layer   WebSocket hub
//	└── api-layer         HTTP server
//
// Layering isolates failures: a panic in the hub restarts only the
// messaging layer while the API keeps serving. Services are wrapped in
// the adapters under the services subpackage, which translate each
// component's lifecycle into suture's context-aware Serve pattern.
//
// Restart behavior follows suture's failure accounting: FailureThreshold
// failures (decaying at FailureDecay per second) put the supervisor into
// FailureBackoff before retrying. Supervisor events are logged through
// sutureslog into the process-wide structured logger.
package supervisor
