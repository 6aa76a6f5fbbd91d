package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"verifyme/internal/qr"
	"verifyme/internal/sentinel"
)

// problem is the JSON body of every error response. Kind is stable and
// machine readable; Title and Description are shown to the user.
type problem struct {
	Kind        string `json:"error"`
	Title       string `json:"title"`
	Description string `json:"description"`
	status      int
}

// Order matters: a failed update of a missing record is reported as
// not found.
var problems = []struct {
	err error
	p   problem
}{
	{sentinel.ErrEmptyInput, problem{"empty_input", "Nothing to look up", "Scan a code or type a student ID first.", http.StatusBadRequest}},
	{sentinel.ErrInvalidFormat, problem{"invalid_format", "Invalid QR code", "The scanned code does not contain a valid student ID.", http.StatusUnprocessableEntity}},
	{qr.ErrNoCode, problem{"no_code", "No QR code found", "No QR code could be read from the image.", http.StatusUnprocessableEntity}},
	{sentinel.ErrNotFound, problem{"not_found", "Student not found", "No student record matches this ID.", http.StatusNotFound}},
	{sentinel.ErrInvalidStatus, problem{"invalid_status", "Invalid status", "Status must be Pending, Verified or Rejected.", http.StatusBadRequest}},
	{sentinel.ErrUpdateFailed, problem{"update_failed", "Update failed", "The student status could not be saved. Please try again.", http.StatusInternalServerError}},
	{sentinel.ErrPermissionDenied, problem{"permission_denied", "Camera permission denied", "Allow camera access in your browser settings and try again.", http.StatusForbidden}},
	{sentinel.ErrNoDeviceFound, problem{"no_device_found", "No camera found", "No camera is connected to this device.", http.StatusUnprocessableEntity}},
	{sentinel.ErrCameraUnavailable, problem{"camera_unavailable", "Camera not supported", "Your browser cannot open the camera. Enter the student ID manually.", http.StatusServiceUnavailable}},
	{sentinel.ErrConflict, problem{"conflict", "Already registered", "A student with this matric number is already registered.", http.StatusConflict}},
	{sentinel.ErrNoFaceDetected, problem{"no_face_detected", "No face detected", "Upload a clear photo that shows your face.", http.StatusUnprocessableEntity}},
	{sentinel.ErrInvalidInput, problem{"invalid_input", "Invalid submission", "Check the form and try again.", http.StatusBadRequest}},
	{sentinel.ErrUnauthorized, problem{"unauthorized", "Sign in required", "Your credentials are invalid or your session has expired.", http.StatusUnauthorized}},
	{sentinel.ErrMalformedRecord, problem{"malformed_record", "Corrupt record", "The stored student record is invalid.", http.StatusInternalServerError}},
	{sentinel.ErrUnavailable, problem{"unavailable", "Service unavailable", "A dependency is unavailable. Please try again shortly.", http.StatusServiceUnavailable}},
}

var internalProblem = problem{"internal", "Something went wrong", "An unexpected error occurred.", http.StatusInternalServerError}

func problemFor(err error) problem {
	for _, m := range problems {
		if errors.Is(err, m.err) {
			return m.p
		}
	}
	return internalProblem
}

// fail writes err as a problem. Validation details are passed through for
// invalid input; other causes are only logged.
func (h *Handler) fail(c *gin.Context, err error) {
	p := problemFor(err)
	if p.Kind == "invalid_input" {
		p.Description = err.Error()
	}
	if p.status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "kind", p.Kind, "error", err)
	}
	c.AbortWithStatusJSON(p.status, p)
}
