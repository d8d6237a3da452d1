package motion

import "errors"

var (
	// ErrUnsupported means the platform exposes no motion sensor.
	ErrUnsupported = errors.New("motion: sensor unsupported")

	// ErrPermissionDenied means the user or platform refused sensor access.
	ErrPermissionDenied = errors.New("motion: permission denied")

	// ErrStopped is returned by Start when Stop was called while the
	// permission request was still pending.
	ErrStopped = errors.New("motion: stopped during start")

	// ErrTransientLogging wraps activity logging failures. They are logged
	// and counted, never retried.
	ErrTransientLogging = errors.New("motion: activity logging failed")
)
