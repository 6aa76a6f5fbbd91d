package student

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"verifyme/internal/sentinel"
)

const recordColumns = `id, full_name, matric_number, faculty, department, photo_url, status, created_at, verified_at, verified_by`

// Repository persists student records and scan logs. The SQL is portable
// between Postgres (pgx) and SQLite. SQLite binds $n by first appearance,
// so placeholders must appear in ascending order.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create assigns the identifier, creation time and Pending status, then
// inserts the record. Caller-supplied values for those fields are ignored.
func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	id, err := newID()
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	rec.Status = StatusPending
	rec.CreatedAt = r.now().Truncate(time.Microsecond)
	rec.VerifiedAt = nil
	rec.VerifiedBy = nil
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO students (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.FullName, rec.MatricNumber, rec.Faculty, rec.Department, rec.PhotoURL, string(rec.Status), rec.CreatedAt, nil, nil)
	if isUniqueViolation(err) {
		return Record{}, fmt.Errorf("%w: matric number %s is already registered", sentinel.ErrConflict, rec.MatricNumber)
	}
	if err != nil {
		return Record{}, fmt.Errorf("insert student: %w", err)
	}
	return rec, nil
}

// isUniqueViolation matches the matric number index on either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "idx_students_matric_unique"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Get returns a single record by primary key.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	if !ValidID(id) {
		return Record{}, fmt.Errorf("student %q: %w", id, sentinel.ErrNotFound)
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM students WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("student %q: %w", id, sentinel.ErrNotFound)
		}
		return Record{}, err
	}
	return rec, nil
}

// FindBy returns records whose field equals value, newest first.
func (r *Repository) FindBy(ctx context.Context, field Field, value string) ([]Record, error) {
	switch field {
	case FieldMatricNumber, FieldFaculty, FieldDepartment, FieldStatus:
	default:
		return nil, fmt.Errorf("%w: field %q is not queryable", sentinel.ErrInvalidInput, field)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM students WHERE `+string(field)+` = $1 ORDER BY created_at DESC`, value)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// List returns records newest first, filtered by status and a
// case-insensitive search over name, matric number and department.
func (r *Repository) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM students`
	args := []any{}
	clauses := []string{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(q))+"%")
		n := "$" + strconv.Itoa(len(args))
		clauses = append(clauses, "(LOWER(full_name) LIKE "+n+` ESCAPE '\' OR LOWER(matric_number) LIKE `+n+` ESCAPE '\' OR LOWER(department) LIKE `+n+` ESCAPE '\')`)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		offset := f.Offset
		if offset < 0 {
			offset = 0
		}
		args = append(args, f.Limit, offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// UpdateStatus writes the status fields and returns the stored record.
func (r *Repository) UpdateStatus(ctx context.Context, id string, change StatusChange) (Record, error) {
	if _, err := ParseStatus(string(change.Status)); err != nil {
		return Record{}, err
	}
	var verifiedAt any
	if change.VerifiedAt != nil {
		verifiedAt = change.VerifiedAt.UTC()
	}
	var verifiedBy any
	if change.VerifiedBy != nil {
		verifiedBy = *change.VerifiedBy
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE students
		SET status = $1, verified_at = $2, verified_by = $3
		WHERE id = $4
	`, string(change.Status), verifiedAt, verifiedBy, id)
	if err != nil {
		return Record{}, fmt.Errorf("update student status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Record{}, fmt.Errorf("student %q: %w", id, sentinel.ErrNotFound)
	}
	return r.Get(ctx, id)
}

// AppendScanLog inserts an audit entry. Entries are never updated.
func (r *Repository) AppendScanLog(ctx context.Context, e AuditEntry) error {
	if e.ID == "" || e.StudentID == "" {
		return fmt.Errorf("%w: audit entry requires id and student id", sentinel.ErrInvalidInput)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scan_logs (id, student_id, admin_id, admin_email, scanned_at, raw_qr_data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.StudentID, e.AdminID, e.AdminEmail, e.Timestamp.UTC(), e.RawQRData)
	return err
}

// ListScanLogs returns audit entries for one record, newest first.
func (r *Repository) ListScanLogs(ctx context.Context, studentID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, admin_id, admin_email, scanned_at, raw_qr_data
		FROM scan_logs
		WHERE student_id = $1
		ORDER BY scanned_at DESC
		LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.StudentID, &e.AdminID, &e.AdminEmail, &e.Timestamp, &e.RawQRData); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		status     string
		verifiedAt sql.NullTime
		verifiedBy sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.FullName, &rec.MatricNumber, &rec.Faculty, &rec.Department,
		&rec.PhotoURL, &status, &rec.CreatedAt, &verifiedAt, &verifiedBy); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		rec.VerifiedAt = &t
	}
	if verifiedBy.Valid {
		s := verifiedBy.String
		rec.VerifiedBy = &s
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func collect(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
