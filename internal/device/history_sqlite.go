package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// timestampLayout is fixed-width so created_at sorts lexically.
	timestampLayout = "2006-01-02T15:04:05.000000Z"
)

// SQLiteEventHistory implements EventHistory using the device_events table.
type SQLiteEventHistory struct {
	db *sql.DB
}

// NewSQLiteEventHistory creates an event journal backed by db.
func NewSQLiteEventHistory(db *sql.DB) *SQLiteEventHistory {
	return &SQLiteEventHistory{db: db}
}

// RecordEvent inserts a journal row.
func (h *SQLiteEventHistory) RecordEvent(ctx context.Context, ev Event) error {
	if err := ValidateID(ev.DeviceID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if ev.Kind != EventPresence && ev.Kind != EventStatus {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	var on sql.NullBool
	if ev.On != nil {
		on = sql.NullBool{Bool: *ev.On, Valid: true}
	}
	var payload sql.NullString
	if len(ev.Payload) > 0 {
		payload = sql.NullString{String: string(ev.Payload), Valid: true}
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO device_events (device_id, kind, online, switch_on, channel, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.DeviceID,
		string(ev.Kind),
		ev.Online,
		on,
		ev.Channel,
		payload,
		ev.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

// GetHistory returns recent events for a device ordered newest first.
func (h *SQLiteEventHistory) GetHistory(ctx context.Context, deviceID string, limit int) ([]Event, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, device_id, kind, online, switch_on, channel, payload, created_at
		 FROM device_events
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			ev        Event
			kind      string
			on        sql.NullBool
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.DeviceID, &kind, &ev.Online, &on, &ev.Channel, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		ev.Kind = EventKind(kind)
		if on.Valid {
			v := on.Bool
			ev.On = &v
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		if ev.CreatedAt, err = parseEventTimestamp(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}

	return events, nil
}

// PruneHistory deletes events older than olderThan.
func (h *SQLiteEventHistory) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := h.db.ExecContext(ctx, "DELETE FROM device_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting device events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func parseEventTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(timestampLayout, value)
	if err == nil {
		return ts, nil
	}
	// Rows written by the column default carry second precision.
	ts, err = time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ts, nil
}
