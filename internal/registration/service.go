// Package registration validates and creates student records.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"verifyme/internal/cloudinary"
	"verifyme/internal/faceclient"
	"verifyme/internal/logging"
	"verifyme/internal/metrics"
	"verifyme/internal/sentinel"
	"verifyme/internal/student"
)

// MaxPhotoBytes caps an uploaded photo.
const MaxPhotoBytes = 10 << 20

// Input is a registration form.
type Input struct {
	FullName     string `validate:"required,min=2,max=120"`
	MatricNumber string `validate:"required,max=40"`
	Faculty      string `validate:"required"`
	Department   string `validate:"required"`
	Photo        []byte `validate:"required"`
	PhotoName    string
}

// Store creates records and answers uniqueness queries.
type Store interface {
	Create(ctx context.Context, rec student.Record) (student.Record, error)
	FindBy(ctx context.Context, field student.Field, value string) ([]student.Record, error)
}

// PhotoHost stores photos and returns their public URL.
type PhotoHost interface {
	Upload(ctx context.Context, data []byte, filename string) (cloudinary.UploadResult, error)
}

// FaceDetector checks that a hosted photo shows a face.
type FaceDetector interface {
	Detect(ctx context.Context, imageURL string) (faceclient.Detection, error)
}

// Service registers students.
type Service struct {
	store    Store
	photos   PhotoHost
	faces    FaceDetector
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewService builds a Service. faces may be nil to skip the face check;
// without photos every registration fails as unavailable.
func NewService(store Store, photos PhotoHost, faces FaceDetector, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:    store,
		photos:   photos,
		faces:    faces,
		validate: validator.New(),
		logger:   logger,
		metrics:  m,
	}
}

// Register validates the form, uploads the photo, runs the face check and
// creates a Pending record.
func (s *Service) Register(ctx context.Context, in Input) (student.Record, error) {
	rec, err := s.register(ctx, in)
	switch {
	case err == nil:
		s.metrics.ObserveRegistration("created")
	case errors.Is(err, sentinel.ErrConflict):
		s.metrics.ObserveRegistration("duplicate")
	case errors.Is(err, sentinel.ErrInvalidInput), errors.Is(err, sentinel.ErrNoFaceDetected):
		s.metrics.ObserveRegistration("rejected")
	default:
		s.metrics.ObserveRegistration("error")
	}
	return rec, err
}

func (s *Service) register(ctx context.Context, in Input) (student.Record, error) {
	in.FullName = strings.Join(strings.Fields(in.FullName), " ")
	in.MatricNumber = strings.ToUpper(strings.TrimSpace(in.MatricNumber))

	if err := s.validate.Struct(in); err != nil {
		return student.Record{}, fmt.Errorf("%w: %s", sentinel.ErrInvalidInput, describe(err))
	}
	faculty, ok := LookupFaculty(in.Faculty)
	if !ok {
		return student.Record{}, fmt.Errorf("%w: unknown faculty %q", sentinel.ErrInvalidInput, in.Faculty)
	}
	department, ok := faculty.Department(in.Department)
	if !ok {
		return student.Record{}, fmt.Errorf("%w: department %q is not in %s", sentinel.ErrInvalidInput, in.Department, faculty.Name)
	}
	if len(in.Photo) > MaxPhotoBytes {
		return student.Record{}, fmt.Errorf("%w: photo exceeds 10MB", sentinel.ErrInvalidInput)
	}
	switch http.DetectContentType(in.Photo) {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
	default:
		return student.Record{}, fmt.Errorf("%w: photo must be an image", sentinel.ErrInvalidInput)
	}

	existing, err := s.store.FindBy(ctx, student.FieldMatricNumber, in.MatricNumber)
	if err != nil {
		return student.Record{}, fmt.Errorf("check matric number: %w", err)
	}
	if len(existing) > 0 {
		return student.Record{}, fmt.Errorf("%w: matric number %s is already registered", sentinel.ErrConflict, in.MatricNumber)
	}

	if s.photos == nil {
		return student.Record{}, fmt.Errorf("%w: photo storage is not configured", sentinel.ErrUnavailable)
	}
	name := in.PhotoName
	if name == "" {
		name = "photo"
	}
	uploaded, err := s.photos.Upload(ctx, in.Photo, name)
	if err != nil {
		return student.Record{}, fmt.Errorf("upload photo: %w", err)
	}
	photoURL := uploaded.PhotoURL()

	if s.faces != nil {
		if _, err := s.faces.Detect(ctx, photoURL); err != nil {
			if errors.Is(err, sentinel.ErrNoFaceDetected) {
				return student.Record{}, fmt.Errorf("photo: %w", err)
			}
			s.logger.Warn("face check skipped", "matric_number", in.MatricNumber, "error", err)
		}
	}

	rec, err := s.store.Create(ctx, student.Record{
		FullName:     in.FullName,
		MatricNumber: in.MatricNumber,
		Faculty:      faculty.Name,
		Department:   department,
		PhotoURL:     photoURL,
	})
	if err != nil {
		return student.Record{}, err
	}
	s.logger.Info("student registered", "student_id", rec.ID, "faculty", rec.Faculty)
	return rec, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s must be %s %s characters", fe.Field(), map[string]string{"min": "at least", "max": "at most"}[fe.Tag()], fe.Param()))
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
