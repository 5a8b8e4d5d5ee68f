// Package permissions checks the OS-level microphone authorization that
// capture backends need before opening a device.
package permissions

import "errors"

var (
	ErrDenied     = errors.New("microphone permission denied")
	ErrRestricted = errors.New("microphone access restricted")
	ErrPending    = errors.New("microphone permission requested, retry after granting")
)
