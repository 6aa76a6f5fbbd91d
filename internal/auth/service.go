package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"verifyme/internal/logging"
	"verifyme/internal/sentinel"
)

// Service signs admins in and manages their refresh tokens.
type Service struct {
	admins     *AdminStore
	issuer     string
	key        string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewService wires the admin store with token settings.
func NewService(admins *AdminStore, issuer, key string, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		admins:     admins,
		issuer:     issuer,
		key:        key,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		logger:     logger,
	}
}

// Login checks the password and issues a token pair. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, Identity, error) {
	a, err := s.admins.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return TokenPair{}, Identity{}, fmt.Errorf("%w: invalid credentials", sentinel.ErrUnauthorized)
		}
		return TokenPair{}, Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("admin login rejected", "email", a.Email)
		return TokenPair{}, Identity{}, fmt.Errorf("%w: invalid credentials", sentinel.ErrUnauthorized)
	}

	id := Identity{ID: a.ID, Email: a.Email}
	pair, err := s.issue(ctx, id)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}
	s.logger.Info("admin signed in", "admin_id", a.ID)
	return pair, id, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked, so reusing it fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := Parse(refreshToken, KindRefresh, s.key, s.issuer)
	if err != nil {
		return TokenPair{}, err
	}
	adminID, err := s.admins.ConsumeRefresh(ctx, refreshToken, s.now())
	if err != nil {
		return TokenPair{}, err
	}
	if adminID != claims.Subject {
		return TokenPair{}, fmt.Errorf("%w: token subject mismatch", sentinel.ErrUnauthorized)
	}
	a, err := s.admins.byID(ctx, adminID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return TokenPair{}, fmt.Errorf("%w: admin removed", sentinel.ErrUnauthorized)
		}
		return TokenPair{}, err
	}
	return s.issue(ctx, Identity{ID: a.ID, Email: a.Email})
}

// Logout revokes the refresh token. Unknown or already revoked tokens are
// not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if _, err := Parse(refreshToken, KindRefresh, s.key, s.issuer); err != nil {
		return err
	}
	_, err := s.admins.RevokeRefresh(ctx, refreshToken)
	return err
}

func (s *Service) issue(ctx context.Context, id Identity) (TokenPair, error) {
	pair, err := Issue(id, s.issuer, s.key, s.now(), s.accessTTL, s.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.admins.SaveRefresh(ctx, pair.RefreshToken, id.ID, pair.RefreshExp); err != nil {
		return TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}
	return pair, nil
}
