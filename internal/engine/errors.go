package engine

import "fmt"

// StepsExceededError reports a chain that hit its step quota.
//
// Plans are short ordered lists, so this normally indicates a
// misconfigured plan rather than a runtime condition.
type StepsExceededError struct {
	EventID string
	Steps   int
	Limit   int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("chain for event %s exceeded %d steps (limit %d)",
		e.EventID, e.Steps, e.Limit)
}
