package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"verifyme/internal/sentinel"
	"verifyme/internal/store"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "verifyme-test"
)

func TestIssueAndParse(t *testing.T) {
	id := Identity{ID: "admin-1", Email: "registrar@uni.edu"}
	pair, err := Issue(id, testIssuer, testKey, time.Now(), time.Minute, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, KindAccess, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, id, claims.Identity())

	_, err = Parse(pair.RefreshToken, KindAccess, testKey, testIssuer)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized, "refresh token used as access token")

	_, err = Parse(pair.AccessToken, KindAccess, "other-key", testIssuer)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)

	_, err = Parse(pair.AccessToken, KindAccess, testKey, "someone-else")
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue(Identity{ID: "a"}, testIssuer, testKey, time.Now().Add(-2*time.Hour), time.Minute, time.Minute)
	require.NoError(t, err)
	_, err = Parse(pair.AccessToken, KindAccess, testKey, testIssuer)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
}

func TestIdentityName(t *testing.T) {
	assert.Equal(t, "a@b.c", Identity{ID: "1", Email: "a@b.c"}.Name())
	assert.Equal(t, Unknown, Identity{ID: "1"}.Name())
	assert.Equal(t, Unknown, Identity{}.Name())
}

func TestIdentitySubject(t *testing.T) {
	assert.Equal(t, "1", Identity{ID: "1"}.Subject())
	assert.Equal(t, Unknown, Identity{Email: "a@b.c"}.Subject())
}

func TestAdminAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/who", AdminAuth(testKey, testIssuer), func(c *gin.Context) {
		c.JSON(http.StatusOK, IdentityFrom(c))
	})

	pair, err := Issue(Identity{ID: "admin-1", Email: "registrar@uni.edu"}, testIssuer, testKey, time.Now(), time.Minute, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"refresh token", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"access token", "Bearer " + pair.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.JSONEq(t, `{"id":"admin-1","email":"registrar@uni.edu"}`, w.Body.String())
			}
		})
	}
}

func TestIdentityFromWithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, Unknown, IdentityFrom(c).Name())
}

type ServiceSuite struct {
	suite.Suite
	ctx    context.Context
	db     *store.DB
	admins *AdminStore
	svc    *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := store.NewDB(s.ctx, "sqlite", ":memory:")
	s.Require().NoError(err)
	s.db = db
	s.admins = NewAdminStore(db.Client)
	s.svc = NewService(s.admins, testIssuer, testKey, time.Minute, time.Hour, nil)

	created, err := s.admins.Seed(s.ctx, "Registrar@Uni.edu ", "correct horse")
	s.Require().NoError(err)
	s.Require().True(created)
}

func (s *ServiceSuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

func (s *ServiceSuite) TestSeedIsIdempotent() {
	created, err := s.admins.Seed(s.ctx, "registrar@uni.edu", "another")
	s.Require().NoError(err)
	s.False(created)
}

func (s *ServiceSuite) TestLogin() {
	pair, id, err := s.svc.Login(s.ctx, "registrar@uni.edu", "correct horse")
	s.Require().NoError(err)
	s.Equal("registrar@uni.edu", id.Email)
	s.NotEmpty(id.ID)

	claims, err := Parse(pair.AccessToken, KindAccess, testKey, testIssuer)
	s.Require().NoError(err)
	s.Equal(id, claims.Identity())

	_, _, err = s.svc.Login(s.ctx, "registrar@uni.edu", "wrong")
	s.ErrorIs(err, sentinel.ErrUnauthorized)

	_, _, err = s.svc.Login(s.ctx, "nobody@uni.edu", "correct horse")
	s.ErrorIs(err, sentinel.ErrUnauthorized)
}

func (s *ServiceSuite) TestRefreshRotates() {
	pair, _, err := s.svc.Login(s.ctx, "registrar@uni.edu", "correct horse")
	s.Require().NoError(err)

	next, err := s.svc.Refresh(s.ctx, pair.RefreshToken)
	s.Require().NoError(err)
	s.NotEqual(pair.RefreshToken, next.RefreshToken)

	_, err = s.svc.Refresh(s.ctx, pair.RefreshToken)
	s.ErrorIs(err, sentinel.ErrUnauthorized, "reused refresh token")

	_, err = s.svc.Refresh(s.ctx, next.RefreshToken)
	s.NoError(err)
}

func (s *ServiceSuite) TestRefreshRejectsAccessToken() {
	pair, _, err := s.svc.Login(s.ctx, "registrar@uni.edu", "correct horse")
	s.Require().NoError(err)
	_, err = s.svc.Refresh(s.ctx, pair.AccessToken)
	s.ErrorIs(err, sentinel.ErrUnauthorized)
}

func (s *ServiceSuite) TestRefreshRejectsUnstoredToken() {
	a, err := s.admins.ByEmail(s.ctx, "registrar@uni.edu")
	s.Require().NoError(err)
	pair, err := Issue(Identity{ID: a.ID, Email: a.Email}, testIssuer, testKey, time.Now(), time.Minute, time.Hour)
	s.Require().NoError(err)

	_, err = s.svc.Refresh(s.ctx, pair.RefreshToken)
	s.ErrorIs(err, sentinel.ErrUnauthorized)
}

func (s *ServiceSuite) TestRefreshRejectsStoredExpiry() {
	pair, _, err := s.svc.Login(s.ctx, "registrar@uni.edu", "correct horse")
	s.Require().NoError(err)

	s.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.svc.Refresh(s.ctx, pair.RefreshToken)
	s.ErrorIs(err, sentinel.ErrUnauthorized)
}

func (s *ServiceSuite) TestLogout() {
	pair, _, err := s.svc.Login(s.ctx, "registrar@uni.edu", "correct horse")
	s.Require().NoError(err)

	s.Require().NoError(s.svc.Logout(s.ctx, pair.RefreshToken))
	s.Require().NoError(s.svc.Logout(s.ctx, pair.RefreshToken))

	_, err = s.svc.Refresh(s.ctx, pair.RefreshToken)
	s.ErrorIs(err, sentinel.ErrUnauthorized)
}

func (s *ServiceSuite) TestConsumeRefreshOnce() {
	a, err := s.admins.ByEmail(s.ctx, "registrar@uni.edu")
	s.Require().NoError(err)
	now := time.Now().UTC()
	s.Require().NoError(s.admins.SaveRefresh(s.ctx, "refresh-1", a.ID, now.Add(time.Hour)))

	adminID, err := s.admins.ConsumeRefresh(s.ctx, "refresh-1", now)
	s.Require().NoError(err)
	s.Equal(a.ID, adminID)

	_, err = s.admins.ConsumeRefresh(s.ctx, "refresh-1", now)
	s.ErrorIs(err, sentinel.ErrUnauthorized)
}

func (s *ServiceSuite) TestRevokeRefreshReportsFirstCaller() {
	a, err := s.admins.ByEmail(s.ctx, "registrar@uni.edu")
	s.Require().NoError(err)
	s.Require().NoError(s.admins.SaveRefresh(s.ctx, "refresh-2", a.ID, time.Now().UTC().Add(time.Hour)))

	first, err := s.admins.RevokeRefresh(s.ctx, "refresh-2")
	s.Require().NoError(err)
	s.True(first)

	second, err := s.admins.RevokeRefresh(s.ctx, "refresh-2")
	s.Require().NoError(err)
	s.False(second)

	missing, err := s.admins.RevokeRefresh(s.ctx, "no-such-token")
	s.Require().NoError(err)
	s.False(missing)
}
