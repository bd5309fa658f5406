package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kairon/internal/ir"
)

const traceColumns = `id, event_id, parent_trace_id, step_name, step_order,
	created_at, data, voided_at, superseded_by_trace_id, engine_version`

// WriteTrace inserts a trace row. Uses ON CONFLICT(id) DO NOTHING so a
// retried write after a transient failure stays idempotent.
func (s *Store) WriteTrace(ctx context.Context, tr ir.Trace) error {
	if tr.ID == "" || tr.EventID == "" || tr.StepName == "" {
		return ir.NewValidationError("trace id, event id, and step name are required")
	}
	dataJSON, err := marshalStepData(tr.Data)
	if err != nil {
		return fmt.Errorf("write trace: %w", err)
	}

	return s.withRetry(ctx, "write trace", func() error {
		_, err := s.exec(ctx, `
			INSERT INTO traces
			(id, event_id, parent_trace_id, step_name, step_order, created_at,
			 data, voided_at, superseded_by_trace_id, engine_version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`,
			tr.ID,
			tr.EventID,
			tr.ParentTraceID,
			tr.StepName,
			tr.StepOrder,
			formatTime(tr.CreatedAt),
			dataJSON,
			formatNullableTime(tr.VoidedAt),
			tr.SupersededByTraceID,
			tr.EngineVersion,
		)
		if err != nil {
			return fmt.Errorf("write trace: %w", err)
		}
		return nil
	})
}

// VoidTrace marks a trace voided, optionally linking its superseding trace.
// Conditional single-winner update: a trace voids at most once. Returns
// whether this call was the winner.
func (s *Store) VoidTrace(ctx context.Context, traceID, supersededBy string, at time.Time) (bool, error) {
	var winner bool
	err := s.withRetry(ctx, "void trace", func() error {
		result, err := s.exec(ctx, `
			UPDATE traces
			SET voided_at = ?,
			    superseded_by_trace_id = CASE
			        WHEN ? = '' THEN superseded_by_trace_id
			        ELSE ?
			    END
			WHERE id = ? AND voided_at IS NULL
		`, formatTime(at), supersededBy, supersededBy, traceID)
		if err != nil {
			return fmt.Errorf("void trace: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("void trace: rows affected: %w", err)
		}
		winner = rows > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if !winner {
		// Distinguish "already voided" from "no such trace".
		if _, err := s.GetTrace(ctx, traceID); err != nil {
			return false, err
		}
	}
	return winner, nil
}

// GetTrace retrieves a single trace by ID.
func (s *Store) GetTrace(ctx context.Context, id string) (ir.Trace, error) {
	row := s.queryRow(ctx, `
		SELECT `+traceColumns+`
		FROM traces
		WHERE id = ?
	`, id)
	tr, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Trace{}, ir.NewNotFoundError("trace", id)
	}
	if err != nil {
		return ir.Trace{}, fmt.Errorf("get trace: %w", err)
	}
	return tr, nil
}

// GetTraces retrieves several traces by ID, in the order requested.
// Fails with NotFound if any is absent.
func (s *Store) GetTraces(ctx context.Context, ids []string) ([]ir.Trace, error) {
	traces := make([]ir.Trace, 0, len(ids))
	for _, id := range ids {
		tr, err := s.GetTrace(ctx, id)
		if err != nil {
			return nil, err
		}
		traces = append(traces, tr)
	}
	return traces, nil
}

// ListTraces returns all traces for an event in deterministic order
// (created_at, step_order, id). An event that has been replayed or corrected
// carries several chains; callers reconstruct individual chains by following
// parent_trace_id links.
func (s *Store) ListTraces(ctx context.Context, eventID string) ([]ir.Trace, error) {
	rows, err := s.query(ctx, `
		SELECT `+traceColumns+`
		FROM traces
		WHERE event_id = ?
		ORDER BY created_at ASC, step_order ASC, id ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	traces := []ir.Trace{}
	for rows.Next() {
		tr, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("list traces: %w", err)
		}
		traces = append(traces, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list traces: iterate: %w", err)
	}
	return traces, nil
}

func scanTrace(r rowScanner) (ir.Trace, error) {
	var (
		tr        ir.Trace
		createdAt string
		data      string
		voidedAt  sql.NullString
	)
	err := r.Scan(
		&tr.ID, &tr.EventID, &tr.ParentTraceID, &tr.StepName, &tr.StepOrder,
		&createdAt, &data, &voidedAt, &tr.SupersededByTraceID,
		&tr.EngineVersion,
	)
	if err != nil {
		return ir.Trace{}, err
	}
	if tr.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.Trace{}, err
	}
	if tr.Data, err = unmarshalStepData(data); err != nil {
		return ir.Trace{}, err
	}
	if tr.VoidedAt, err = parseNullableTime(voidedAt); err != nil {
		return ir.Trace{}, err
	}
	return tr, nil
}
