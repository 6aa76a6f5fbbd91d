package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"verifyme/internal/auth"
	"verifyme/internal/export"
	"verifyme/internal/idcard"
	"verifyme/internal/qr"
	"verifyme/internal/registration"
	"verifyme/internal/sentinel"
	"verifyme/internal/student"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type registerForm struct {
	FullName     string `form:"fullName"`
	MatricNumber string `form:"matricNumber"`
	Faculty      string `form:"faculty"`
	Department   string `form:"department"`
}

// RegisterStudent accepts a multipart form with the student's details and
// a photo file.
func (h *Handler) RegisterStudent(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, registration.MaxPhotoBytes+1<<20)

	var form registerForm
	if err := c.ShouldBind(&form); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", sentinel.ErrInvalidInput, err))
		return
	}
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		h.fail(c, fmt.Errorf("%w: photo file is required", sentinel.ErrInvalidInput))
		return
	}
	defer file.Close()

	photo, err := io.ReadAll(io.LimitReader(file, registration.MaxPhotoBytes+1))
	if err != nil {
		h.fail(c, fmt.Errorf("%w: read photo: %v", sentinel.ErrInvalidInput, err))
		return
	}

	rec, err := h.registrar.Register(c.Request.Context(), registration.Input{
		FullName:     form.FullName,
		MatricNumber: form.MatricNumber,
		Faculty:      form.Faculty,
		Department:   form.Department,
		Photo:        photo,
		PhotoName:    header.Filename,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"student": rec,
		"qrUrl":   "/v1/students/" + rec.ID + "/qr.png",
		"cardUrl": "/v1/students/" + rec.ID + "/card.png",
	})
}

// StudentQR serves the record id as a QR code PNG.
func (h *Handler) StudentQR(c *gin.Context) {
	rec, err := h.verifier.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "256"))
	if size < 64 || size > 1024 {
		size = 256
	}
	data, err := qr.EncodePNG(rec.ID, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", data)
}

// StudentCard serves the printable ID card.
func (h *Handler) StudentCard(c *gin.Context) {
	rec, err := h.verifier.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := idcard.PNG(rec)
	if err != nil {
		h.fail(c, err)
		return
	}
	if c.Query("download") != "" {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-id-card.png"`, rec.ID))
	}
	c.Data(http.StatusOK, "image/png", data)
}

// ListStudents supports q, status, limit and offset query parameters.
func (h *Handler) ListStudents(c *gin.Context) {
	f, err := filterFrom(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	f.Limit = intQuery(c, "limit", defaultPageSize)
	if f.Limit <= 0 || f.Limit > maxPageSize {
		f.Limit = defaultPageSize
	}
	f.Offset = intQuery(c, "offset", 0)
	if f.Offset < 0 {
		f.Offset = 0
	}

	recs, err := h.verifier.List(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if recs == nil {
		recs = []student.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"students": recs, "limit": f.Limit, "offset": f.Offset})
}

func (h *Handler) GetStudent(c *gin.Context) {
	rec, err := h.verifier.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// SetStatus applies {"status": "Pending|Verified|Rejected"}.
func (h *Handler) SetStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", sentinel.ErrInvalidInput, err))
		return
	}
	status, err := student.ParseStatus(body.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.verifier.SetStatus(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"), status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) ScanLogs(c *gin.Context) {
	logs, err := h.verifier.ScanLogs(c.Request.Context(), c.Param("id"), intQuery(c, "limit", 50))
	if err != nil {
		h.fail(c, err)
		return
	}
	if logs == nil {
		logs = []student.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"scans": logs})
}

// ExportCSV downloads every record matching q and status.
func (h *Handler) ExportCSV(c *gin.Context) {
	f, err := filterFrom(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	recs, err := h.verifier.List(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, recs); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.FileName(h.now())))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func filterFrom(c *gin.Context) (student.Filter, error) {
	f := student.Filter{Query: c.Query("q")}
	switch s := c.Query("status"); s {
	case "", "all":
	default:
		status, err := student.ParseStatus(s)
		if err != nil {
			return student.Filter{}, err
		}
		f.Status = status
	}
	return f, nil
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
