package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kairon/internal/ir"
)

const projectionColumns = `id, trace_id, event_id, trace_chain, projection_type,
	data, status, created_at, confirmed_at, voided_at, voided_reason,
	voided_by_event_id, superseded_by_projection_id, supersedes_projection_id`

// CreateProjection persists a derived fact. The trace chain is validated at
// creation time: it must be a non-empty, order-consistent, non-voided prefix
// of real trace rows for the projection's event. Fails closed with
// CHAIN_INTEGRITY - nothing is persisted on rejection.
func (s *Store) CreateProjection(ctx context.Context, p ir.Projection) (ir.Projection, error) {
	if p.ID == "" || p.EventID == "" || p.ProjectionType == "" {
		return ir.Projection{}, ir.NewValidationError("projection id, event id, and type are required")
	}
	if !ir.ValidProjectionStatuses[p.Status] || p.Status == ir.StatusVoided {
		return ir.Projection{}, ir.NewValidationError(
			fmt.Sprintf("invalid initial projection status %q", p.Status))
	}
	if err := s.validateChain(ctx, p); err != nil {
		return ir.Projection{}, err
	}

	chainJSON, err := marshalChain(p.TraceChain)
	if err != nil {
		return ir.Projection{}, fmt.Errorf("create projection: %w", err)
	}
	dataJSON, err := marshalDocument(p.Data)
	if err != nil {
		return ir.Projection{}, fmt.Errorf("create projection: %w", err)
	}

	err = s.withRetry(ctx, "create projection", func() error {
		_, err := s.exec(ctx, `
			INSERT INTO projections
			(id, trace_id, event_id, trace_chain, projection_type, data,
			 status, created_at, confirmed_at, supersedes_projection_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`,
			p.ID,
			p.TraceID,
			p.EventID,
			chainJSON,
			p.ProjectionType,
			dataJSON,
			string(p.Status),
			formatTime(p.CreatedAt),
			formatNullableTime(p.ConfirmedAt),
			p.SupersedesProjectionID,
		)
		if err != nil {
			return fmt.Errorf("create projection: %w", err)
		}
		return nil
	})
	if err != nil {
		return ir.Projection{}, err
	}
	return p, nil
}

// validateChain checks the provenance closure of a new projection:
// every chain trace exists, is non-voided, belongs to the projection's event,
// and the chain is a single linear path rooted at a parentless trace with
// strictly increasing step order. The producing trace must be the last link.
func (s *Store) validateChain(ctx context.Context, p ir.Projection) error {
	if len(p.TraceChain) == 0 {
		return ir.NewChainIntegrityError("trace chain is empty", p.EventID)
	}
	if p.TraceID != p.TraceChain[len(p.TraceChain)-1] {
		return ir.NewChainIntegrityError("producing trace is not the chain tail", p.EventID)
	}

	traces, err := s.GetTraces(ctx, p.TraceChain)
	if err != nil {
		if ir.IsNotFound(err) {
			return ir.NewChainIntegrityError("trace chain references a missing trace", p.EventID)
		}
		return err
	}

	prevID := ""
	prevOrder := 0
	for i, tr := range traces {
		if tr.Voided() {
			return ir.NewChainIntegrityError(
				fmt.Sprintf("trace chain references voided trace %s", tr.ID), p.EventID)
		}
		if tr.EventID != p.EventID {
			return ir.NewChainIntegrityError(
				fmt.Sprintf("trace %s belongs to a different event lineage", tr.ID), p.EventID)
		}
		if tr.ParentTraceID != prevID {
			return ir.NewChainIntegrityError(
				fmt.Sprintf("trace chain breaks at position %d: parent link mismatch", i), p.EventID)
		}
		if i > 0 && tr.StepOrder <= prevOrder {
			return ir.NewChainIntegrityError(
				fmt.Sprintf("trace chain step order not increasing at position %d", i), p.EventID)
		}
		prevID = tr.ID
		prevOrder = tr.StepOrder
	}
	return nil
}

// ConfirmProjection transitions pending/auto_confirmed -> confirmed.
// Fails with INVALID_TRANSITION if the projection is already voided or
// confirmed.
func (s *Store) ConfirmProjection(ctx context.Context, id string, at time.Time) (ir.Projection, error) {
	var updated bool
	err := s.withRetry(ctx, "confirm projection", func() error {
		result, err := s.exec(ctx, `
			UPDATE projections
			SET status = ?, confirmed_at = ?
			WHERE id = ? AND status IN (?, ?)
		`, string(ir.StatusConfirmed), formatTime(at), id,
			string(ir.StatusPending), string(ir.StatusAutoConfirmed))
		if err != nil {
			return fmt.Errorf("confirm projection: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("confirm projection: rows affected: %w", err)
		}
		updated = rows > 0
		return nil
	})
	if err != nil {
		return ir.Projection{}, err
	}

	p, err := s.GetProjection(ctx, id)
	if err != nil {
		return ir.Projection{}, err
	}
	if !updated {
		return ir.Projection{}, ir.NewInvalidTransitionError(
			fmt.Sprintf("cannot confirm projection in status %q", p.Status), id)
	}
	return p, nil
}

// VoidProjection marks a projection voided - the single-winner conditional
// update at the heart of correction convergence. Succeeds only if the row is
// not already voided; under concurrent correction attempts exactly one caller
// wins and the rest observe winner=false as a silent no-op, never an error.
//
// When supersededBy names the replacing projection, both directions of the
// supersession link are written in the same transaction.
func (s *Store) VoidProjection(ctx context.Context, id, reason, actingEventID, supersededBy string, at time.Time) (ir.Projection, bool, error) {
	var winner bool
	err := s.withRetry(ctx, "void projection", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("void projection: begin tx: %w", err)
		}
		defer tx.Rollback()

		result, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE projections
			SET status = ?, voided_at = ?, voided_reason = ?,
			    voided_by_event_id = ?, superseded_by_projection_id = ?
			WHERE id = ? AND status != ?
		`), string(ir.StatusVoided), formatTime(at), reason,
			actingEventID, supersededBy, id, string(ir.StatusVoided))
		if err != nil {
			return fmt.Errorf("void projection: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("void projection: rows affected: %w", err)
		}
		winner = rows > 0

		if winner && supersededBy != "" {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE projections
				SET supersedes_projection_id = ?
				WHERE id = ?
			`), id, supersededBy); err != nil {
				return fmt.Errorf("void projection: link successor: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("void projection: commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return ir.Projection{}, false, err
	}

	p, err := s.GetProjection(ctx, id)
	if err != nil {
		return ir.Projection{}, false, err
	}
	return p, winner, nil
}

// GetProjection retrieves a single projection by ID.
func (s *Store) GetProjection(ctx context.Context, id string) (ir.Projection, error) {
	row := s.queryRow(ctx, `
		SELECT `+projectionColumns+`
		FROM projections
		WHERE id = ?
	`, id)
	p, err := scanProjection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Projection{}, ir.NewNotFoundError("projection", id)
	}
	if err != nil {
		return ir.Projection{}, fmt.Errorf("get projection: %w", err)
	}
	return p, nil
}

// LiveProjectionsBefore returns the non-voided projections of an event
// lineage created strictly before the cutoff. The coordinator uses this as
// its time-ordering guard: a projection that a concurrent, later correction
// produced is never swept up by an earlier one.
func (s *Store) LiveProjectionsBefore(ctx context.Context, eventID string, cutoff time.Time) ([]ir.Projection, error) {
	rows, err := s.query(ctx, `
		SELECT `+projectionColumns+`
		FROM projections
		WHERE event_id = ? AND status != ? AND created_at < ?
		ORDER BY created_at ASC, id ASC
	`, eventID, string(ir.StatusVoided), formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("live projections before: %w", err)
	}
	defer rows.Close()
	return collectProjections(rows)
}

func collectProjections(rows *sql.Rows) ([]ir.Projection, error) {
	projections := []ir.Projection{}
	for rows.Next() {
		p, err := scanProjection(rows)
		if err != nil {
			return nil, err
		}
		projections = append(projections, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projections: %w", err)
	}
	return projections, nil
}

func scanProjection(r rowScanner) (ir.Projection, error) {
	var (
		p           ir.Projection
		chain       string
		data        string
		status      string
		createdAt   string
		confirmedAt sql.NullString
		voidedAt    sql.NullString
	)
	err := r.Scan(
		&p.ID, &p.TraceID, &p.EventID, &chain, &p.ProjectionType, &data,
		&status, &createdAt, &confirmedAt, &voidedAt, &p.VoidedReason,
		&p.VoidedByEventID, &p.SupersededByProjectionID,
		&p.SupersedesProjectionID,
	)
	if err != nil {
		return ir.Projection{}, err
	}
	p.Status = ir.ProjectionStatus(status)
	if p.TraceChain, err = unmarshalChain(chain); err != nil {
		return ir.Projection{}, err
	}
	if p.Data, err = unmarshalDocument(data); err != nil {
		return ir.Projection{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.Projection{}, err
	}
	if p.ConfirmedAt, err = parseNullableTime(confirmedAt); err != nil {
		return ir.Projection{}, err
	}
	if p.VoidedAt, err = parseNullableTime(voidedAt); err != nil {
		return ir.Projection{}, err
	}
	return p, nil
}
