// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/bastionsec/bastion/internal/event"
	"github.com/bastionsec/bastion/internal/logging"
)

// DuckDBStore implements Store using DuckDB. Columnar storage keeps large
// retention windows queryable for report export.
type DuckDBStore struct {
	db    *sql.DB
	owned bool
}

// NewDuckDBStore wraps an already-open DuckDB handle. The caller retains
// ownership and must have created the schema.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// OpenDuckDBStore opens a DuckDB database at path, creating the schema if
// needed. An empty path opens an in-memory database.
func OpenDuckDBStore(ctx context.Context, path string) (*DuckDBStore, error) {
	if path == "" {
		path = ":memory:?autoinstall_known_extensions=false&autoload_known_extensions=false"
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	s := &DuckDBStore{db: db, owned: true}
	if err := s.CreateTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CreateTable creates the security_events table if it does not exist.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS security_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			level TEXT NOT NULL,
			source TEXT NOT NULL,
			user_id TEXT,
			description TEXT NOT NULL,
			metadata JSON,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			actions JSON,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON security_events(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_events_type ON security_events(type);
		CREATE INDEX IF NOT EXISTS idx_events_level ON security_events(level);
		CREATE INDEX IF NOT EXISTS idx_events_source ON security_events(source);
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Security events table created/verified")
	return nil
}

// Save persists one security event.
func (s *DuckDBStore) Save(ctx context.Context, evt *event.SecurityEvent) error {
	if evt == nil {
		return fmt.Errorf("event cannot be nil")
	}

	query := `
		INSERT INTO security_events (
			id, timestamp, type, level, source, user_id,
			description, metadata, resolved, actions, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		evt.ID,
		evt.Timestamp,
		string(evt.Type),
		string(evt.Level),
		evt.Source,
		nullable(evt.UserID),
		evt.Description,
		marshalJSONColumn(evt.Metadata),
		evt.Resolved,
		marshalJSONColumn(evt.Actions),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save security event: %w", err)
	}
	return nil
}

// Query returns events matching the filter, oldest first.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]event.SecurityEvent, error) {
	query, args := buildQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var events []event.SecurityEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan security event row")
			continue
		}
		events = append(events, *evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}
	return events, nil
}

// CountByType returns event counts grouped by type.
func (s *DuckDBStore) CountByType(ctx context.Context, filter QueryFilter) (map[string]int64, error) {
	return s.countByColumn(ctx, "type", filter)
}

// CountByLevel returns event counts grouped by level.
func (s *DuckDBStore) CountByLevel(ctx context.Context, filter QueryFilter) (map[string]int64, error) {
	return s.countByColumn(ctx, "level", filter)
}

func (s *DuckDBStore) countByColumn(ctx context.Context, column string, filter QueryFilter) (map[string]int64, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM security_events%s GROUP BY %s", column, where, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err == nil {
			result[key] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return result, nil
}

// DeleteBefore removes events older than cutoff and returns the count.
func (s *DuckDBStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM security_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return removed, nil
}

// Close closes the database if this store opened it.
func (s *DuckDBStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func buildQuery(filter QueryFilter) (string, []any) {
	where, args := buildWhere(filter)
	query := `
		SELECT
			id, timestamp, type, level, source, user_id, description,
			CAST(metadata AS VARCHAR) as metadata,
			resolved,
			CAST(actions AS VARCHAR) as actions
		FROM security_events` + where + " ORDER BY timestamp ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	return query, args
}

func buildWhere(filter QueryFilter) (string, []any) {
	var conditions []string
	var args []any

	if cond := buildSliceCondition("type", filter.Types, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if cond := buildSliceCondition("level", filter.Levels, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.Start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.End)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// buildSliceCondition creates a SQL IN condition for a slice of values.
func buildSliceCondition[T ~string](column string, values []T, args *[]any) string {
	if len(values) == 0 {
		return ""
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, string(v))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

func scanEvent(rows *sql.Rows) (*event.SecurityEvent, error) {
	var evt event.SecurityEvent
	var eventType, level string
	var userID, metadata, actions sql.NullString

	err := rows.Scan(&evt.ID, &evt.Timestamp, &eventType, &level, &evt.Source,
		&userID, &evt.Description, &metadata, &evt.Resolved, &actions)
	if err != nil {
		return nil, err
	}

	evt.Type = event.Type(eventType)
	evt.Level = event.Level(level)
	evt.UserID = userID.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &evt.Metadata); err != nil {
			logging.Warn().Err(err).Str("event_id", evt.ID).Msg("Corrupt metadata column")
		}
	}
	if actions.Valid && actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &evt.Actions); err != nil {
			logging.Warn().Err(err).Str("event_id", evt.ID).Msg("Corrupt actions column")
		}
	}
	return &evt, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// marshalJSONColumn renders a value for a DuckDB JSON column. Nil keeps the
// column NULL.
func marshalJSONColumn(v any) *string {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
	case []string:
		if len(t) == 0 {
			return nil
		}
	case nil:
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
