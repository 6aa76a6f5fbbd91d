// Package verification resolves scanned text to student records, records
// scan audit entries and applies verification status changes.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"verifyme/internal/auth"
	"verifyme/internal/logging"
	"verifyme/internal/metrics"
	"verifyme/internal/resolver"
	"verifyme/internal/sentinel"
	"verifyme/internal/student"
)

//go:generate mockgen -source=service.go -destination=mocks/store_mock.go -package=mocks

// Store is the authoritative record store.
type Store interface {
	Get(ctx context.Context, id string) (student.Record, error)
	UpdateStatus(ctx context.Context, id string, change student.StatusChange) (student.Record, error)
	List(ctx context.Context, f student.Filter) ([]student.Record, error)
	ListScanLogs(ctx context.Context, studentID string, limit int) ([]student.AuditEntry, error)
}

// AuditSink appends scan audit entries.
type AuditSink interface {
	Append(ctx context.Context, e student.AuditEntry) error
}

// Service implements lookup and status transitions over a Store, keeping a
// View of recently touched records.
type Service struct {
	store   Store
	audit   AuditSink
	view    View
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source for verifiedAt and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a Service. A nil view disables caching.
func NewService(store Store, audit AuditSink, view View, opts ...Option) *Service {
	if view == nil {
		view = noView{}
	}
	s := &Service{
		store:  store,
		audit:  audit,
		view:   view,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup resolves raw scanned text, fetches the record and appends an audit
// entry for actor. Audit failures are logged, never returned. A missing
// record produces no audit entry.
func (s *Service) Lookup(ctx context.Context, actor auth.Identity, raw string) (student.Record, error) {
	id, matcher, err := resolver.ResolveWith(resolver.Matchers, raw)
	if err != nil {
		s.metrics.ObserveScan(outcome(err))
		return student.Record{}, err
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		s.metrics.ObserveScan(outcome(err))
		return student.Record{}, err
	}
	s.metrics.ObserveScan("found")
	s.logger.Debug("scan resolved", "student_id", id, "matcher", matcher, "admin_id", actor.Subject())

	entry := student.AuditEntry{
		ID:         uuid.NewString(),
		StudentID:  id,
		AdminID:    actor.Subject(),
		AdminEmail: actor.Name(),
		Timestamp:  s.now(),
		RawQRData:  raw,
	}
	if s.audit != nil {
		if err := s.audit.Append(ctx, entry); err != nil {
			s.metrics.IncAuditFailures()
			s.logger.Error("scan audit append failed",
				"student_id", id, "error", fmt.Errorf("%w: %v", sentinel.ErrAuditLogFailed, err))
		}
	}

	s.cache(ctx, rec)
	return rec, nil
}

// SetStatus applies a transition. Verified stamps verifiedAt and verifiedBy;
// Pending and Rejected clear both. The view changes only after the store
// write succeeds.
func (s *Service) SetStatus(ctx context.Context, actor auth.Identity, id string, status student.Status) (student.Record, error) {
	if !student.ValidID(id) {
		return student.Record{}, fmt.Errorf("%w: %q", sentinel.ErrInvalidFormat, id)
	}
	if _, err := student.ParseStatus(string(status)); err != nil {
		return student.Record{}, err
	}

	change := student.StatusChange{Status: status}
	if status == student.StatusVerified {
		at := s.now()
		by := actor.Name()
		change.VerifiedAt = &at
		change.VerifiedBy = &by
	}

	rec, err := s.store.UpdateStatus(ctx, id, change)
	if err != nil {
		s.logger.Warn("status update failed", "student_id", id, "status", status, "error", err)
		return student.Record{}, fmt.Errorf("%w: %w", sentinel.ErrUpdateFailed, err)
	}
	s.metrics.ObserveTransition(string(status))
	s.logger.Info("status updated", "student_id", id, "status", status, "admin_id", actor.Subject())

	s.cache(ctx, rec)
	return rec, nil
}

// Record returns a record from the view, falling back to the store.
func (s *Service) Record(ctx context.Context, id string) (student.Record, error) {
	if !student.ValidID(id) {
		return student.Record{}, fmt.Errorf("student %q: %w", id, sentinel.ErrNotFound)
	}
	rec, ok, err := s.view.Get(ctx, id)
	if err != nil {
		s.logger.Warn("view read failed", "student_id", id, "error", err)
	}
	if ok {
		return rec, nil
	}
	rec, err = s.store.Get(ctx, id)
	if err != nil {
		return student.Record{}, err
	}
	s.cache(ctx, rec)
	return rec, nil
}

// List reads straight from the store.
func (s *Service) List(ctx context.Context, f student.Filter) ([]student.Record, error) {
	return s.store.List(ctx, f)
}

// ScanLogs returns audit entries for one record, newest first.
func (s *Service) ScanLogs(ctx context.Context, id string, limit int) ([]student.AuditEntry, error) {
	return s.store.ListScanLogs(ctx, id, limit)
}

// cache stores rec in the view. On failure the entry is dropped so reads go
// to the store.
func (s *Service) cache(ctx context.Context, rec student.Record) {
	if err := s.view.Put(ctx, rec); err != nil {
		s.logger.Warn("view update failed", "student_id", rec.ID, "error", err)
		if err := s.view.Delete(ctx, rec.ID); err != nil {
			s.logger.Warn("view evict failed", "student_id", rec.ID, "error", err)
		}
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, sentinel.ErrEmptyInput):
		return "empty"
	case errors.Is(err, sentinel.ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, sentinel.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
