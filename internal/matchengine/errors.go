package matchengine

import "fmt"

// InvalidCriteriaError is returned when Criteria fails validation.
// Reported to the caller with field-level detail; no state is created.
type InvalidCriteriaError struct {
	Field  string
	Reason string
}

func (e *InvalidCriteriaError) Error() string {
	return fmt.Sprintf("invalid criteria: %s: %s", e.Field, e.Reason)
}
