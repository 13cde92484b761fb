package engine

import "fmt"

// ErrorKind classifies an EngineError per §7. Comparable via errors.Is
// against a bare *EngineError carrying only a Kind, the same
// plain-exported-sentinel style the teacher's parser files use for
// ErrUnsupportedRevision-shaped errors, generalized to a typed kind
// instead of one constant per condition.
type ErrorKind string

const (
	FileOpenFailed               ErrorKind = "file_open_failed"
	DeviceBusy                   ErrorKind = "device_busy"
	Internal                     ErrorKind = "internal"
	CaptureIoError               ErrorKind = "capture_io_error"
	ProcessorNotificationBacklog ErrorKind = "processor_notification_backlog"
)

// EngineError wraps an underlying error with the §7 kind it was surfaced
// as, so callers can branch with errors.Is(err, &EngineError{Kind: ...})
// without string-matching a user-note's text.
type EngineError struct {
	Kind ErrorKind
	Err  error
}

func newError(kind ErrorKind, err error) *EngineError {
	return &EngineError{Kind: kind, Err: err}
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine: %s", e.Kind)
	}
	return fmt.Sprintf("engine: %s: %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches any *EngineError with the same Kind, regardless of the
// wrapped cause -- callers compare against &EngineError{Kind: DeviceBusy}.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Kind == e.Kind
}
