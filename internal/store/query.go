package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/kairon/internal/ir"
)

// ProjectionFilter selects projections for read-side consumers.
//
// Every read path defaults to excluding voided rows; audit and debug views
// set IncludeVoided explicitly. All values are parameterized, never
// interpolated, and every compiled query carries a deterministic ORDER BY
// with an id tiebreaker.
type ProjectionFilter struct {
	// Types restricts to the given projection types. Empty means all.
	Types []string

	// Statuses restricts to the given statuses. Empty means all live
	// statuses (or all statuses when IncludeVoided is set).
	Statuses []ir.ProjectionStatus

	// EventID restricts to one event lineage.
	EventID string

	// IncludeVoided includes voided rows. Ignored when Statuses names
	// voided explicitly.
	IncludeVoided bool

	// Since / Until bound created_at (inclusive / exclusive).
	Since time.Time
	Until time.Time

	// Limit caps the result count. Zero means unlimited.
	Limit int
}

// compile turns the filter into a WHERE clause and parameter list.
func (f ProjectionFilter) compile() (string, []any) {
	var conds []string
	var args []any

	if len(f.Types) > 0 {
		conds = append(conds, "projection_type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}

	switch {
	case len(f.Statuses) > 0:
		conds = append(conds, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	case !f.IncludeVoided:
		conds = append(conds, "status != ?")
		args = append(args, string(ir.StatusVoided))
	}

	if f.EventID != "" {
		conds = append(conds, "event_id = ?")
		args = append(args, f.EventID)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, formatTime(f.Until))
	}

	return whereClause(conds), args
}

// QueryProjections returns projections matching the filter in deterministic
// order (created_at, id).
func (s *Store) QueryProjections(ctx context.Context, f ProjectionFilter) ([]ir.Projection, error) {
	where, args := f.compile()
	q := `SELECT ` + projectionColumns + ` FROM projections` + where +
		` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query projections: %w", err)
	}
	defer rows.Close()
	return collectProjections(rows)
}

// CountProjections returns the number of projections matching the filter.
func (s *Store) CountProjections(ctx context.Context, f ProjectionFilter) (int, error) {
	where, args := f.compile()
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM projections`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count projections: %w", err)
	}
	return count, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
