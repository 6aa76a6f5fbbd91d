package handler

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"verifyme/internal/auth"
	"verifyme/internal/qr"
	"verifyme/internal/scanner"
	"verifyme/internal/scansession"
	"verifyme/internal/sentinel"
	"verifyme/internal/student"
)

const maxFrameBytes = 5 << 20

type lookupRequest struct {
	Text string `json:"text"`
}

type lookupResponse struct {
	Raw     string          `json:"raw"`
	Student *student.Record `json:"student,omitempty"`
}

// Lookup resolves typed or pasted text.
func (h *Handler) Lookup(c *gin.Context) {
	var req lookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", sentinel.ErrInvalidInput, err))
		return
	}
	rec, err := h.verifier.Lookup(c.Request.Context(), auth.IdentityFrom(c), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lookupResponse{Raw: req.Text, Student: &rec})
}

// DecodeImage reads a QR code from one uploaded image and looks it up.
func (h *Handler) DecodeImage(c *gin.Context) {
	data, err := readImage(c, "image")
	if err != nil {
		h.fail(c, err)
		return
	}
	raw, err := h.decoder.DecodeBytes(data)
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.verifier.Lookup(c.Request.Context(), auth.IdentityFrom(c), raw)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lookupResponse{Raw: raw, Student: &rec})
}

type openSessionRequest struct {
	FacingMode  string `json:"facingMode"`
	CameraError string `json:"cameraError"`
}

// sessionResponse flattens a snapshot, rendering the outcome's error as a
// problem.
type sessionResponse struct {
	ID          string              `json:"id"`
	State       string              `json:"state"`
	Constraints scanner.Constraints `json:"constraints"`
	Outcome     *outcomeResponse    `json:"outcome,omitempty"`
}

type outcomeResponse struct {
	Raw     string          `json:"raw"`
	Student *student.Record `json:"student,omitempty"`
	Error   *problem        `json:"problem,omitempty"`
}

func toSessionResponse(s scansession.Snapshot) sessionResponse {
	out := sessionResponse{ID: s.ID, State: s.State, Constraints: s.Constraints}
	if s.Outcome != nil {
		o := &outcomeResponse{Raw: s.Outcome.Raw, Student: s.Outcome.Record}
		if s.Outcome.Err != nil {
			p := problemFor(s.Outcome.Err)
			o.Error = &p
		}
		out.Outcome = o
	}
	return out
}

// OpenSession starts a capture session. The browser sends the outcome of
// its own camera request as cameraError.
func (h *Handler) OpenSession(c *gin.Context) {
	var req openSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, fmt.Errorf("%w: %v", sentinel.ErrInvalidInput, err))
			return
		}
	}
	snap, err := h.sessions.Open(c.Request.Context(), auth.IdentityFrom(c), scanner.ParseFacing(req.FacingMode), req.CameraError)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(snap))
}

func (h *Handler) GetSession(c *gin.Context) {
	snap, err := h.sessions.Get(c.Param("id"), auth.IdentityFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(snap))
}

func (h *Handler) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id"), auth.IdentityFrom(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PushFrame accepts one camera frame as a multipart "frame" file or a raw
// image body.
func (h *Handler) PushFrame(c *gin.Context) {
	data, err := readImage(c, "frame")
	if err != nil {
		h.fail(c, err)
		return
	}
	img, err := qr.DecodeImage(data)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", sentinel.ErrInvalidInput, err))
		return
	}
	snap, err := h.sessions.Push(c.Param("id"), auth.IdentityFrom(c), img)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toSessionResponse(snap))
}

func (h *Handler) ManualEntry(c *gin.Context) {
	var req lookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", sentinel.ErrInvalidInput, err))
		return
	}
	snap, err := h.sessions.Manual(c.Request.Context(), c.Param("id"), auth.IdentityFrom(c), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(snap))
}

func readImage(c *gin.Context, field string) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFrameBytes+1<<16)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, _, err := c.Request.FormFile(field)
		if err != nil {
			return nil, fmt.Errorf("%w: %s file is required", sentinel.ErrInvalidInput, field)
		}
		defer file.Close()
		return readLimited(file)
	}
	return readLimited(c.Request.Body)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFrameBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", sentinel.ErrInvalidInput, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", sentinel.ErrInvalidInput)
	}
	if len(data) > maxFrameBytes {
		return nil, fmt.Errorf("%w: image exceeds 5MB", sentinel.ErrInvalidInput)
	}
	return data, nil
}
