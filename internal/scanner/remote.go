package scanner

import (
	"context"
	"fmt"
	"image"
	"sync"

	"verifyme/internal/sentinel"
)

// CameraErrorFromName maps a browser getUserMedia error name to an error
// kind. An empty name means the camera was granted.
func CameraErrorFromName(name string) error {
	switch name {
	case "":
		return nil
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		return sentinel.ErrPermissionDenied
	case "NotFoundError", "DevicesNotFoundError", "OverconstrainedError":
		return sentinel.ErrNoDeviceFound
	case "NotSupportedError", "TypeError":
		return sentinel.ErrCameraUnavailable
	}
	return fmt.Errorf("%w: %s", sentinel.ErrCameraUnavailable, name)
}

// RemoteCamera is a camera held by a browser. The browser reports the
// outcome of its own camera request and then pushes frames over HTTP.
type RemoteCamera struct {
	errorName string

	mu          sync.Mutex
	stream      *PushStream
	constraints Constraints
}

// NewRemoteCamera records the browser's camera outcome. errorName is the
// DOMException name from getUserMedia, or empty on success.
func NewRemoteCamera(errorName string) *RemoteCamera {
	return &RemoteCamera{errorName: errorName}
}

// Open returns the error reported by the browser, or a fresh push stream.
func (c *RemoteCamera) Open(_ context.Context, cons Constraints) (Stream, error) {
	if err := CameraErrorFromName(c.errorName); err != nil {
		return nil, err
	}
	s := NewPushStream()
	c.mu.Lock()
	c.stream = s
	c.constraints = cons
	c.mu.Unlock()
	return s, nil
}

// Constraints returns what the last Open requested, for the browser to apply.
func (c *RemoteCamera) Constraints() Constraints {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.constraints
}

// Push hands a frame to the current stream.
func (c *RemoteCamera) Push(img image.Image) error {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return ErrStreamStopped
	}
	return s.Push(img)
}

// PushStream is a one-slot mailbox: a newer frame replaces an unread one.
type PushStream struct {
	mu      sync.Mutex
	frame   image.Image
	stopped bool
}

func NewPushStream() *PushStream {
	return &PushStream{}
}

func (s *PushStream) Push(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStreamStopped
	}
	s.frame = img
	return nil
}

func (s *PushStream) Frame(context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStreamStopped
	}
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	f := s.frame
	s.frame = nil
	return f, nil
}

func (s *PushStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.frame = nil
}

// Stopped reports whether Stop has been called.
func (s *PushStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
