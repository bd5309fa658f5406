package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kairon/internal/ir"
)

const eventColumns = `id, received_at, event_type, source, payload, idempotency_key,
	cancellation_requested, cancellation_requested_at, correction_event_id`

// AppendEvent inserts an event into the ledger, idempotent on
// (event_type, idempotency_key) via ON CONFLICT DO NOTHING.
//
// Returns the persisted row and isNew. On a key collision the EXISTING row is
// returned with isNew=false - callers must treat this as "already processed",
// not as an error. The insert and the existing-row read happen in one
// transaction, mirroring the insert-or-select shape the single-writer pool
// serializes.
func (s *Store) AppendEvent(ctx context.Context, ev ir.Event) (ir.Event, bool, error) {
	if err := validateEvent(ev); err != nil {
		return ir.Event{}, false, err
	}
	payloadJSON, err := marshalDocument(ev.Payload)
	if err != nil {
		return ir.Event{}, false, ir.NewValidationError("event payload is not serializable: " + err.Error())
	}

	var out ir.Event
	var isNew bool
	err = s.withRetry(ctx, "append event", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("append event: begin tx: %w", err)
		}
		defer tx.Rollback() // No-op if committed

		result, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO events
			(id, received_at, event_type, source, payload, idempotency_key)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (event_type, idempotency_key) DO NOTHING
		`),
			ev.ID,
			formatTime(ev.ReceivedAt),
			ev.EventType,
			ev.Source,
			payloadJSON,
			ev.IdempotencyKey,
		)
		if err != nil {
			return fmt.Errorf("append event: insert: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("append event: rows affected: %w", err)
		}
		isNew = rows > 0

		// Either way, read back the row that owns the key. A fresh insert
		// reads itself; a collision reads the earlier delivery.
		row := tx.QueryRowContext(ctx, s.rebind(`
			SELECT `+eventColumns+`
			FROM events
			WHERE event_type = ? AND idempotency_key = ?
		`), ev.EventType, ev.IdempotencyKey)
		out, err = scanEvent(row)
		if err != nil {
			return fmt.Errorf("append event: read back: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("append event: commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return ir.Event{}, false, err
	}
	return out, isNew, nil
}

// GetEvent retrieves a single event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (ir.Event, error) {
	row := s.queryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = ?
	`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Event{}, ir.NewNotFoundError("event", id)
	}
	if err != nil {
		return ir.Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// SetCancellationMarker atomically flags an event's metadata side channel:
// "a correction is in progress". Idempotent and safe to call concurrently -
// the first writer's timestamp and correction link win, later calls are
// no-ops on those fields.
func (s *Store) SetCancellationMarker(ctx context.Context, eventID, correctionEventID string, at time.Time) error {
	return s.withRetry(ctx, "set cancellation marker", func() error {
		result, err := s.exec(ctx, `
			UPDATE events
			SET cancellation_requested = 1,
			    cancellation_requested_at = COALESCE(cancellation_requested_at, ?),
			    correction_event_id = CASE
			        WHEN correction_event_id = '' THEN ?
			        ELSE correction_event_id
			    END
			WHERE id = ?
		`, formatTime(at), correctionEventID, eventID)
		if err != nil {
			return fmt.Errorf("set cancellation marker: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("set cancellation marker: rows affected: %w", err)
		}
		if rows == 0 {
			return ir.NewNotFoundError("event", eventID)
		}
		return nil
	})
}

// CancellationRequested re-reads the cancellation marker for an event.
// Chain workers call this before every step; it must not be cached.
func (s *Store) CancellationRequested(ctx context.Context, eventID string) (bool, error) {
	var requested int
	err := s.queryRow(ctx, `
		SELECT cancellation_requested FROM events WHERE id = ?
	`, eventID).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ir.NewNotFoundError("event", eventID)
	}
	if err != nil {
		return false, fmt.Errorf("read cancellation marker: %w", err)
	}
	return requested != 0, nil
}

// EventFilter selects events for listing and bulk replay.
type EventFilter struct {
	EventType string
	Source    string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// ListEvents returns events matching the filter in deterministic order
// (received_at, id).
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]ir.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events`
	var conds []string
	var args []any
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "received_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "received_at < ?")
		args = append(args, formatTime(f.Until))
	}
	q += whereClause(conds)
	q += " ORDER BY received_at ASC, id ASC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: iterate: %w", err)
	}
	return events, nil
}

func validateEvent(ev ir.Event) error {
	switch {
	case ev.ID == "":
		return ir.NewValidationError("event id is required")
	case ev.EventType == "":
		return ir.NewValidationError("event type is required")
	case ev.Source == "":
		return ir.NewValidationError("event source is required")
	case ev.IdempotencyKey == "":
		return ir.NewValidationError("event idempotency key is required")
	case ev.ReceivedAt.IsZero():
		return ir.NewValidationError("event received_at is required")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (ir.Event, error) {
	var (
		ev          ir.Event
		receivedAt  string
		payload     string
		cancelled   int
		cancelledAt sql.NullString
	)
	err := r.Scan(
		&ev.ID, &receivedAt, &ev.EventType, &ev.Source, &payload,
		&ev.IdempotencyKey, &cancelled, &cancelledAt,
		&ev.Metadata.CorrectionEventID,
	)
	if err != nil {
		return ir.Event{}, err
	}
	if ev.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return ir.Event{}, err
	}
	if ev.Payload, err = unmarshalDocument(payload); err != nil {
		return ir.Event{}, err
	}
	ev.Metadata.CancellationRequested = cancelled != 0
	if ev.Metadata.CancellationRequestedAt, err = parseNullableTime(cancelledAt); err != nil {
		return ir.Event{}, err
	}
	return ev, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	q := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		q += " AND " + c
	}
	return q
}
