package student

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"verifyme/internal/sentinel"
)

// Status is the verification state of a record.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusVerified Status = "Verified"
	StatusRejected Status = "Rejected"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPending, StatusVerified, StatusRejected}

// ParseStatus accepts only the three enumerated values.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusVerified, StatusRejected:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", sentinel.ErrInvalidStatus, s)
}

// Record is one registered student.
type Record struct {
	ID           string     `json:"id" validate:"required"`
	FullName     string     `json:"fullName" validate:"required"`
	MatricNumber string     `json:"matricNumber" validate:"required"`
	Faculty      string     `json:"faculty" validate:"required"`
	Department   string     `json:"department" validate:"required"`
	PhotoURL     string     `json:"photoUrl"`
	Status       Status     `json:"status" validate:"required,oneof=Pending Verified Rejected"`
	CreatedAt    time.Time  `json:"createdAt" validate:"required"`
	VerifiedAt   *time.Time `json:"verifiedAt"`
	VerifiedBy   *string    `json:"verifiedBy"`
}

var validate = validator.New()

// Validate checks the record shape read from or written to the store.
func (r Record) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrMalformedRecord, err)
	}
	if !ValidID(r.ID) {
		return fmt.Errorf("%w: id %q is not canonical", sentinel.ErrMalformedRecord, r.ID)
	}
	return nil
}

// StatusChange is the field update applied by a status transition.
type StatusChange struct {
	Status     Status
	VerifiedAt *time.Time
	VerifiedBy *string
}

// AuditEntry is an append-only record of one successful lookup.
type AuditEntry struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"studentId"`
	AdminID    string    `json:"adminId"`
	AdminEmail string    `json:"adminEmail"`
	Timestamp  time.Time `json:"timestamp"`
	RawQRData  string    `json:"rawQrData"`
}

// Filter narrows List results. Query matches name, matric number or
// department case-insensitively.
type Filter struct {
	Query  string
	Status Status
	Limit  int
	Offset int
}

// Field names a column that supports equality queries.
type Field string

const (
	FieldMatricNumber Field = "matric_number"
	FieldFaculty      Field = "faculty"
	FieldDepartment   Field = "department"
	FieldStatus       Field = "status"
)
