// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package services adapts Bastion's long-lived components to the
// suture.Service interface.
//
// Each wrapper owns one translation concern:
//
//   - HTTPServerService: blocking ListenAndServe vs context-aware Serve,
//     with bounded graceful shutdown.
//   - HubService: delegates to the hub's RunWithContext, which already
//     matches the suture pattern.
//   - PipelineService: one-shot subscription wiring that must then block
//     for the life of the service context.
//
// Wrappers take small interfaces rather than concrete types so tests can
// substitute mocks and the package stays free of upward dependencies.
package services
