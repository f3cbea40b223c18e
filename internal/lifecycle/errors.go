package lifecycle

import "fmt"

// ValidationError is a locally detected rule violation. It is raised before any
// remote call is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ForbiddenError indicates the acting user may not perform the action.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("not permitted to %s", e.Action)
}

func forbidden(action string) error {
	return &ForbiddenError{Action: action}
}
