package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"verifyme/internal/sentinel"
)

// Admin is an operator account.
type Admin struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// AdminStore persists admins and their refresh tokens.
type AdminStore struct {
	db *sql.DB
}

func NewAdminStore(db *sql.DB) *AdminStore {
	return &AdminStore{db: db}
}

// Create hashes password with bcrypt and inserts the admin.
func (s *AdminStore) Create(ctx context.Context, email, password string) (Admin, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Admin{}, fmt.Errorf("%w: email and password are required", sentinel.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Admin{}, fmt.Errorf("hash password: %w", err)
	}
	a := Admin{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO admins (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, a.ID, a.Email, a.PasswordHash, a.CreatedAt)
	if err != nil {
		return Admin{}, fmt.Errorf("insert admin: %w", err)
	}
	return a, nil
}

// ByEmail returns sentinel.ErrNotFound when no admin has the email.
func (s *AdminStore) ByEmail(ctx context.Context, email string) (Admin, error) {
	var a Admin
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM admins WHERE email = $1
	`, normalizeEmail(email)).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Admin{}, fmt.Errorf("admin %q: %w", email, sentinel.ErrNotFound)
	}
	if err != nil {
		return Admin{}, err
	}
	return a, nil
}

// Seed creates the admin unless the email already exists.
func (s *AdminStore) Seed(ctx context.Context, email, password string) (bool, error) {
	if _, err := s.ByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return false, err
	}
	if _, err := s.Create(ctx, email, password); err != nil {
		return false, err
	}
	return true, nil
}

// SaveRefresh stores an issued refresh token.
func (s *AdminStore) SaveRefresh(ctx context.Context, token, adminID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, admin_id, expires_at, revoked)
		VALUES ($1, $2, $3, $4)
	`, token, adminID, expiresAt.UTC(), false)
	return err
}

// ConsumeRefresh revokes a stored, unrevoked, unexpired refresh token and
// returns its admin id. Only one caller can consume a given token.
func (s *AdminStore) ConsumeRefresh(ctx context.Context, token string, now time.Time) (string, error) {
	var (
		adminID   string
		expiresAt time.Time
		revoked   bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT admin_id, expires_at, revoked FROM refresh_tokens WHERE token = $1
	`, token).Scan(&adminID, &expiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: unknown refresh token", sentinel.ErrUnauthorized)
	}
	if err != nil {
		return "", err
	}
	if revoked {
		return "", fmt.Errorf("%w: refresh token revoked", sentinel.ErrUnauthorized)
	}
	if !now.Before(expiresAt) {
		return "", fmt.Errorf("%w: refresh token expired", sentinel.ErrUnauthorized)
	}

	ok, err := s.RevokeRefresh(ctx, token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: refresh token revoked", sentinel.ErrUnauthorized)
	}
	return adminID, nil
}

// RevokeRefresh marks a token revoked. It reports whether this call did it.
func (s *AdminStore) RevokeRefresh(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = $1 WHERE token = $2 AND revoked = $3
	`, true, token, false)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *AdminStore) byID(ctx context.Context, id string) (Admin, error) {
	var a Admin
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM admins WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Admin{}, fmt.Errorf("admin %q: %w", id, sentinel.ErrNotFound)
	}
	return a, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
