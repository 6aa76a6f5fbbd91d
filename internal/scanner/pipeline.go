// Package scanner turns a camera feed or typed text into raw scanned text.
// A Pipeline runs one capture session at a time and delivers at most one
// decoded result per session.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"verifyme/internal/logging"
	"verifyme/internal/metrics"
	"verifyme/internal/qr"
	"verifyme/internal/sentinel"
)

// Facing is the camera facing-mode preference.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// ParseFacing defaults to the rear camera for anything but "user".
func ParseFacing(s string) Facing {
	if Facing(s) == FacingUser {
		return FacingUser
	}
	return FacingEnvironment
}

// Constraints describe the requested stream.
type Constraints struct {
	Facing Facing `json:"facingMode"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DefaultConstraints prefers the rear camera at 1280x720.
func DefaultConstraints() Constraints {
	return Constraints{Facing: FacingEnvironment, Width: 1280, Height: 720}
}

var (
	// ErrNoFrame means no new frame is ready; the loop polls again.
	ErrNoFrame = errors.New("no frame available")
	// ErrStreamStopped is returned by a stream after Stop.
	ErrStreamStopped = errors.New("stream stopped")
)

// Camera acquires a media stream. Open returns sentinel.ErrPermissionDenied,
// sentinel.ErrNoDeviceFound or sentinel.ErrCameraUnavailable on failure.
type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream yields frames until stopped. Stop must be idempotent and must not
// block.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Stop()
}

// Decoder reads a QR code from a still frame, returning qr.ErrNoCode when
// there is none.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// ResultFunc receives raw scanned or typed text.
type ResultFunc func(ctx context.Context, raw string)

// State of a pipeline.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateDecoded
)

func (s State) String() string {
	switch s {
	case StateCapturing:
		return "capturing"
	case StateDecoded:
		return "decoded"
	default:
		return "idle"
	}
}

// Pipeline owns at most one camera stream and one decode loop.
type Pipeline struct {
	camera      Camera
	decoder     Decoder
	onResult    ResultFunc
	interval    time.Duration
	constraints Constraints
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	state   State
	session uint64
	stream  Stream
	cancel  context.CancelFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithInterval sets the polling period of the frame loop.
func WithInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithConstraints(c Constraints) Option {
	return func(p *Pipeline) { p.constraints = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds an idle pipeline. camera may be nil when the runtime has no
// camera; StartCapture then fails with sentinel.ErrCameraUnavailable.
func New(camera Camera, decoder Decoder, onResult ResultFunc, opts ...Option) *Pipeline {
	p := &Pipeline{
		camera:      camera,
		decoder:     decoder,
		onResult:    onResult,
		interval:    100 * time.Millisecond,
		constraints: DefaultConstraints(),
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StartCapture stops any running session, acquires the camera and starts
// the frame loop. ctx bounds camera acquisition only; the loop runs until a
// code is decoded or StopCapture is called.
func (p *Pipeline) StartCapture(ctx context.Context) error {
	p.StopCapture()
	if p.camera == nil {
		return fmt.Errorf("%w: no camera api", sentinel.ErrCameraUnavailable)
	}

	stream, err := p.camera.Open(ctx, p.constraints)
	if err != nil {
		return classifyCameraError(err)
	}

	p.mu.Lock()
	if p.state == StateCapturing {
		// a concurrent StartCapture won the race
		p.mu.Unlock()
		stream.Stop()
		return fmt.Errorf("%w: capture already running", sentinel.ErrCameraUnavailable)
	}
	p.session++
	session := p.session
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.state = StateCapturing
	p.stream = stream
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Debug("capture started", "session", session, "facing", p.constraints.Facing)
	go p.loop(loopCtx, stream, session)
	return nil
}

// StopCapture releases the camera. It is safe in any state and may be
// called repeatedly.
func (p *Pipeline) StopCapture() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	if p.state == StateCapturing {
		p.state = StateIdle
	}
}

// DecodeFrame decodes one frame for the running session. It reports the
// decoded text and true only for the first code of the session; the stream
// is stopped before the result callback runs.
func (p *Pipeline) DecodeFrame(ctx context.Context, frame image.Image) (string, bool) {
	p.mu.Lock()
	session, capturing := p.session, p.state == StateCapturing
	p.mu.Unlock()
	if !capturing {
		return "", false
	}
	return p.decode(ctx, session, frame)
}

// SubmitManualText forwards typed text, bypassing the camera.
func (p *Pipeline) SubmitManualText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return sentinel.ErrEmptyInput
	}
	p.onResult(ctx, text)
	return nil
}

func (p *Pipeline) loop(ctx context.Context, stream Stream, session uint64) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if !p.active(session) {
			return
		}
		frame, err := stream.Frame(ctx)
		switch {
		case err == nil:
			if _, done := p.decode(ctx, session, frame); done {
				return
			}
		case errors.Is(err, ErrNoFrame):
		case errors.Is(err, ErrStreamStopped), ctx.Err() != nil:
			return
		default:
			p.metrics.ObserveFrame("error")
			p.logger.Warn("frame read failed", "session", session, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) decode(ctx context.Context, session uint64, frame image.Image) (string, bool) {
	if !p.active(session) {
		return "", false
	}
	text, err := p.decoder.Decode(frame)
	if err != nil {
		if errors.Is(err, qr.ErrNoCode) {
			p.metrics.ObserveFrame("empty")
		} else {
			p.metrics.ObserveFrame("error")
			p.logger.Warn("frame decode failed", "session", session, "error", err)
		}
		return "", false
	}

	p.mu.Lock()
	if p.state != StateCapturing || p.session != session {
		p.mu.Unlock()
		return "", false
	}
	p.state = StateDecoded
	p.stopLocked()
	p.mu.Unlock()

	p.metrics.ObserveFrame("decoded")
	p.logger.Debug("code decoded", "session", session)
	p.onResult(context.WithoutCancel(ctx), text)
	return text, true
}

func (p *Pipeline) active(session uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateCapturing && p.session == session
}

func (p *Pipeline) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.stream != nil {
		p.stream.Stop()
		p.stream = nil
	}
}

func classifyCameraError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrPermissionDenied),
		errors.Is(err, sentinel.ErrNoDeviceFound),
		errors.Is(err, sentinel.ErrCameraUnavailable):
		return err
	}
	return fmt.Errorf("%w: %v", sentinel.ErrCameraUnavailable, err)
}
