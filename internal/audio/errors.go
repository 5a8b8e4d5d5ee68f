package audio

import "fmt"

// CaptureConfigurationError reports that a capture backend could not be set
// up, so no frames will be delivered.
type CaptureConfigurationError struct {
	Backend string
	Op      string
	Err     error
}

func (e *CaptureConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *CaptureConfigurationError) Unwrap() error {
	return e.Err
}

func configError(backend, op string, err error) error {
	return &CaptureConfigurationError{Backend: backend, Op: op, Err: err}
}
