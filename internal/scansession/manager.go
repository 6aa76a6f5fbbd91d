// Package scansession runs camera scan sessions for admins over HTTP. The
// browser owns the camera and pushes frames; each session wraps a
// scanner.Pipeline whose result is looked up on behalf of the owner.
package scansession

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"verifyme/internal/auth"
	"verifyme/internal/logging"
	"verifyme/internal/metrics"
	"verifyme/internal/scanner"
	"verifyme/internal/sentinel"
	"verifyme/internal/student"
)

// Looker resolves raw scanned text for an admin.
type Looker interface {
	Lookup(ctx context.Context, actor auth.Identity, raw string) (student.Record, error)
}

// Outcome is the result of the last lookup in a session.
type Outcome struct {
	Raw    string          `json:"raw"`
	Record *student.Record `json:"record,omitempty"`
	Err    error           `json:"-"`
	At     time.Time       `json:"at"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID          string              `json:"id"`
	State       string              `json:"state"`
	Constraints scanner.Constraints `json:"constraints"`
	Outcome     *Outcome            `json:"outcome,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	LastSeen    time.Time           `json:"lastSeen"`
}

type session struct {
	id       string
	owner    auth.Identity
	camera   *scanner.RemoteCamera
	pipeline *scanner.Pipeline
	created  time.Time

	mu       sync.Mutex
	outcome  *Outcome
	lastSeen time.Time
}

// Manager owns all open sessions.
type Manager struct {
	lookup   Looker
	decoder  scanner.Decoder
	interval time.Duration
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterval sets the frame loop period of new sessions.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithTTL sets how long a session may go without requests before Reap
// closes it.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds an empty manager.
func NewManager(lookup Looker, decoder scanner.Decoder, opts ...Option) *Manager {
	m := &Manager{
		lookup:   lookup,
		decoder:  decoder,
		interval: 100 * time.Millisecond,
		ttl:      2 * time.Minute,
		timeout:  10 * time.Second,
		now:      time.Now,
		logger:   logging.Discard(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts a capture session for actor. cameraError is the browser's
// getUserMedia error name, empty when the camera was granted; camera
// failures are returned and no session is kept.
func (m *Manager) Open(ctx context.Context, actor auth.Identity, facing scanner.Facing, cameraError string) (Snapshot, error) {
	now := m.now()
	s := &session{
		id:       uuid.NewString(),
		owner:    actor,
		camera:   scanner.NewRemoteCamera(cameraError),
		created:  now,
		lastSeen: now,
	}
	cons := scanner.DefaultConstraints()
	cons.Facing = facing
	s.pipeline = scanner.New(s.camera, m.decoder, m.onResult(s),
		scanner.WithInterval(m.interval),
		scanner.WithConstraints(cons),
		scanner.WithLogger(m.logger.With("session_id", s.id)),
		scanner.WithMetrics(m.metrics),
	)
	if err := s.pipeline.StartCapture(ctx); err != nil {
		m.logger.Info("scan session camera refused", "admin_id", actor.ID, "error", err)
		return Snapshot{}, err
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.metrics.SessionOpened()
	m.logger.Debug("scan session opened", "session_id", s.id, "admin_id", actor.ID)
	return s.snapshot(), nil
}

// Push hands a browser frame to the session's decode loop. Frames sent
// after a code was decoded are ignored.
func (m *Manager) Push(id string, actor auth.Identity, frame image.Image) (Snapshot, error) {
	s, err := m.owned(id, actor)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.camera.Push(frame); err != nil && !errors.Is(err, scanner.ErrStreamStopped) {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// Manual looks up typed text within the session. Capture keeps running.
func (m *Manager) Manual(ctx context.Context, id string, actor auth.Identity, text string) (Snapshot, error) {
	s, err := m.owned(id, actor)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.pipeline.SubmitManualText(ctx, text); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// Get returns the session state and last outcome.
func (m *Manager) Get(id string, actor auth.Identity) (Snapshot, error) {
	s, err := m.owned(id, actor)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// Close stops capture and forgets the session.
func (m *Manager) Close(id string, actor auth.Identity) error {
	s, err := m.owned(id, actor)
	if err != nil {
		return err
	}
	m.remove(s, "closed")
	return nil
}

// Reap closes idle sessions every half TTL until ctx is done.
func (m *Manager) Reap(ctx context.Context) error {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.remove(s, "shutdown")
	}
}

// Len reports open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) reapIdle() int {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	var idle []*session
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.lastSeen.Before(cutoff) {
			idle = append(idle, s)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()
	for _, s := range idle {
		m.remove(s, "idle")
	}
	return len(idle)
}

func (m *Manager) remove(s *session, reason string) {
	m.mu.Lock()
	_, ok := m.sessions[s.id]
	delete(m.sessions, s.id)
	m.mu.Unlock()

	s.pipeline.StopCapture()
	if ok {
		m.metrics.SessionClosed()
		m.logger.Debug("scan session closed", "session_id", s.id, "reason", reason)
	}
}

// owned returns sentinel.ErrNotFound both for unknown sessions and for
// sessions of another admin.
func (m *Manager) owned(id string, actor auth.Identity) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || s.owner.ID != actor.ID {
		return nil, fmt.Errorf("scan session %q: %w", id, sentinel.ErrNotFound)
	}
	s.mu.Lock()
	s.lastSeen = m.now()
	s.mu.Unlock()
	return s, nil
}

func (m *Manager) onResult(s *session) scanner.ResultFunc {
	return func(ctx context.Context, raw string) {
		ctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		out := &Outcome{Raw: raw, At: m.now()}
		rec, err := m.lookup.Lookup(ctx, s.owner, raw)
		if err != nil {
			out.Err = err
		} else {
			out.Record = &rec
		}
		s.mu.Lock()
		s.outcome = out
		s.mu.Unlock()
	}
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:          s.id,
		State:       s.pipeline.State().String(),
		Constraints: s.camera.Constraints(),
		CreatedAt:   s.created,
		LastSeen:    s.lastSeen,
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}
