// Package handler exposes registration, admin auth, records and scanning
// over HTTP with gin.
package handler

import (
	"context"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"verifyme/internal/auth"
	"verifyme/internal/logging"
	"verifyme/internal/registration"
	"verifyme/internal/scanner"
	"verifyme/internal/scansession"
	"verifyme/internal/student"
)

// Verifier is the lookup and status service.
type Verifier interface {
	Lookup(ctx context.Context, actor auth.Identity, raw string) (student.Record, error)
	SetStatus(ctx context.Context, actor auth.Identity, id string, status student.Status) (student.Record, error)
	Record(ctx context.Context, id string) (student.Record, error)
	List(ctx context.Context, f student.Filter) ([]student.Record, error)
	ScanLogs(ctx context.Context, id string, limit int) ([]student.AuditEntry, error)
}

// Registrar creates student records.
type Registrar interface {
	Register(ctx context.Context, in registration.Input) (student.Record, error)
}

// Authenticator signs admins in.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (auth.TokenPair, auth.Identity, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Sessions manages camera scan sessions.
type Sessions interface {
	Open(ctx context.Context, actor auth.Identity, facing scanner.Facing, cameraError string) (scansession.Snapshot, error)
	Push(id string, actor auth.Identity, frame image.Image) (scansession.Snapshot, error)
	Manual(ctx context.Context, id string, actor auth.Identity, text string) (scansession.Snapshot, error)
	Get(id string, actor auth.Identity) (scansession.Snapshot, error)
	Close(id string, actor auth.Identity) error
}

// FrameDecoder reads a QR code from an encoded image.
type FrameDecoder interface {
	DecodeBytes(data []byte) (string, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services behind the routes.
type Deps struct {
	Verifier  Verifier
	Registrar Registrar
	Auth      Authenticator
	Sessions  Sessions
	Decoder   FrameDecoder
	Health    map[string]HealthCheck
	Logger    *slog.Logger
}

// Handler serves the API.
type Handler struct {
	verifier  Verifier
	registrar Registrar
	auth      Authenticator
	sessions  Sessions
	decoder   FrameDecoder
	health    map[string]HealthCheck
	logger    *slog.Logger
	now       func() time.Time
}

func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		verifier:  d.Verifier,
		registrar: d.Registrar,
		auth:      d.Auth,
		sessions:  d.Sessions,
		decoder:   d.Decoder,
		health:    d.Health,
		logger:    logger,
		now:       time.Now,
	}
}

// Routes mounts every endpoint on r. adminAuth guards the admin group;
// loginLimit throttles the token endpoints.
func (h *Handler) Routes(r gin.IRouter, adminAuth, loginLimit gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.GET("/catalog/faculties", h.Faculties)
	v1.POST("/students", h.RegisterStudent)
	v1.GET("/students/:id/qr.png", h.StudentQR)
	v1.GET("/students/:id/card.png", h.StudentCard)

	tokens := v1.Group("/admin", loginLimit)
	tokens.POST("/login", h.Login)
	tokens.POST("/refresh", h.Refresh)
	tokens.POST("/logout", h.Logout)

	admin := v1.Group("", adminAuth)
	admin.GET("/students", h.ListStudents)
	admin.GET("/students/:id", h.GetStudent)
	admin.PUT("/students/:id/status", h.SetStatus)
	admin.GET("/students/:id/scans", h.ScanLogs)
	admin.GET("/exports/students.csv", h.ExportCSV)

	admin.POST("/scans/lookup", h.Lookup)
	admin.POST("/scans/decode", h.DecodeImage)
	admin.POST("/scans/sessions", h.OpenSession)
	admin.GET("/scans/sessions/:id", h.GetSession)
	admin.DELETE("/scans/sessions/:id", h.CloseSession)
	admin.POST("/scans/sessions/:id/frames", h.PushFrame)
	admin.POST("/scans/sessions/:id/manual", h.ManualEntry)
}

// Healthz reports every dependency; any failure makes the response 503.
func (h *Handler) Healthz(c *gin.Context) {
	out := gin.H{}
	status := http.StatusOK
	for name, check := range h.health {
		ok := check(c.Request.Context())
		out[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusOK {
		out["status"] = "ok"
	} else {
		out["status"] = "degraded"
	}
	c.JSON(status, out)
}

// Faculties lists the registration catalog.
func (h *Handler) Faculties(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"faculties": registration.Catalog})
}
