// Package sentinel holds the error kinds shared by the scanner, resolver,
// store and HTTP layers. Components wrap these with fmt.Errorf("...: %w")
// and callers classify with errors.Is.
package sentinel

import "errors"

// Camera and input failures. Reported to the caller immediately; the
// current attempt ends without side effects.
var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrNoDeviceFound     = errors.New("no camera device found")
	ErrEmptyInput        = errors.New("empty input")
)

// Resolution and record outcomes. InvalidFormat and NotFound are expected
// user-facing results, not faults.
var (
	ErrInvalidFormat   = errors.New("invalid identifier format")
	ErrNotFound        = errors.New("not found")
	ErrUpdateFailed    = errors.New("update failed")
	ErrAuditLogFailed  = errors.New("audit log failed")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrMalformedRecord = errors.New("malformed record")
)

// Registration, auth and infrastructure.
var (
	ErrConflict       = errors.New("conflict")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNoFaceDetected = errors.New("no face detected")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUnavailable    = errors.New("unavailable")
)
