package capability

import "fmt"

// NotFoundError reports an invoke against an unregistered capability name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("capability %q not found", e.Name)
}

// ParamError reports an argument that failed validation or coercion. Field
// always names the offending parameter.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}

// HandlerError wraps a failure (error return or panic) raised inside a
// capability handler. Only the message crosses this boundary, but the
// original error stays reachable through Unwrap so callers can still match
// sentinel errors like job.ErrConflict.
type HandlerError struct {
	Capability string
	Message    string
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("capability %q failed: %s", e.Capability, e.Message)
}

func (e *HandlerError) Unwrap() error { return e.Err }
