package student

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"verifyme/internal/sentinel"
	"verifyme/internal/store"
)

type RepositorySuite struct {
	suite.Suite
	db   *store.DB
	repo *Repository
	ctx  context.Context
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	db, err := store.NewDB(s.ctx, "sqlite", ":memory:")
	s.Require().NoError(err)
	s.db = db
	s.repo = NewRepository(db.Client)
}

func (s *RepositorySuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

func (s *RepositorySuite) newRecord(name, matric string) Record {
	rec, err := s.repo.Create(s.ctx, Record{
		FullName:     name,
		MatricNumber: matric,
		Faculty:      "Science",
		Department:   "Computer Science",
		PhotoURL:     "https://res.cloudinary.com/demo/image/upload/a.jpg",
	})
	s.Require().NoError(err)
	return rec
}

func (s *RepositorySuite) TestCreateAssignsIdentity() {
	rec, err := s.repo.Create(s.ctx, Record{
		ID:           "caller-chosen",
		FullName:     "Ada Obi",
		MatricNumber: "CSC/2020/001",
		Faculty:      "Science",
		Department:   "Computer Science",
		Status:       StatusVerified,
	})
	s.Require().NoError(err)

	s.True(ValidID(rec.ID))
	s.NotEqual("caller-chosen", rec.ID)
	s.Equal(StatusPending, rec.Status)
	s.False(rec.CreatedAt.IsZero())
	s.Nil(rec.VerifiedAt)
	s.Nil(rec.VerifiedBy)

	got, err := s.repo.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.FullName, got.FullName)
	s.Equal(StatusPending, got.Status)
}

func (s *RepositorySuite) TestCreateRejectsDuplicateMatric() {
	first := s.newRecord("Ada Obi", "CSC/1")

	_, err := s.repo.Create(s.ctx, Record{
		FullName:     "Bola Ade",
		MatricNumber: "CSC/1",
		Faculty:      "Science",
		Department:   "Physics",
	})
	s.ErrorIs(err, sentinel.ErrConflict)

	found, err := s.repo.FindBy(s.ctx, FieldMatricNumber, "CSC/1")
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(first.ID, found[0].ID)
}

func (s *RepositorySuite) TestCreateRejectsMissingFields() {
	_, err := s.repo.Create(s.ctx, Record{FullName: "No Matric"})
	s.ErrorIs(err, sentinel.ErrMalformedRecord)
}

func (s *RepositorySuite) TestGetNotFound() {
	s.Run("unknown canonical id", func() {
		_, err := s.repo.Get(s.ctx, "AAAAAAAAAAAAAAAAAAAA")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
	s.Run("non canonical id", func() {
		_, err := s.repo.Get(s.ctx, "short")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RepositorySuite) TestUpdateStatus() {
	rec := s.newRecord("Ada Obi", "CSC/2020/001")
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	by := "admin@university.edu"

	updated, err := s.repo.UpdateStatus(s.ctx, rec.ID, StatusChange{Status: StatusVerified, VerifiedAt: &at, VerifiedBy: &by})
	s.Require().NoError(err)
	s.Equal(StatusVerified, updated.Status)
	s.Require().NotNil(updated.VerifiedAt)
	s.True(at.Equal(*updated.VerifiedAt))
	s.Equal(by, *updated.VerifiedBy)

	cleared, err := s.repo.UpdateStatus(s.ctx, rec.ID, StatusChange{Status: StatusRejected})
	s.Require().NoError(err)
	s.Equal(StatusRejected, cleared.Status)
	s.Nil(cleared.VerifiedAt)
	s.Nil(cleared.VerifiedBy)
}

func (s *RepositorySuite) TestUpdateStatusErrors() {
	s.Run("unknown record", func() {
		_, err := s.repo.UpdateStatus(s.ctx, "AAAAAAAAAAAAAAAAAAAA", StatusChange{Status: StatusPending})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
	s.Run("invalid status", func() {
		rec := s.newRecord("Ada Obi", "CSC/2020/002")
		_, err := s.repo.UpdateStatus(s.ctx, rec.ID, StatusChange{Status: "Approved"})
		s.ErrorIs(err, sentinel.ErrInvalidStatus)
	})
}

func (s *RepositorySuite) TestListFilters() {
	a := s.newRecord("Ada Obi", "CSC/2020/001")
	s.newRecord("Bola Ade", "MTH/2020/014")
	s.newRecord("Chidi 100%_Sure", "PHY/2021/003")
	_, err := s.repo.UpdateStatus(s.ctx, a.ID, StatusChange{Status: StatusRejected})
	s.Require().NoError(err)

	all, err := s.repo.List(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Len(all, 3)

	rejected, err := s.repo.List(s.ctx, Filter{Status: StatusRejected})
	s.Require().NoError(err)
	s.Require().Len(rejected, 1)
	s.Equal(a.ID, rejected[0].ID)

	byMatric, err := s.repo.List(s.ctx, Filter{Query: "mth/"})
	s.Require().NoError(err)
	s.Require().Len(byMatric, 1)
	s.Equal("Bola Ade", byMatric[0].FullName)

	literal, err := s.repo.List(s.ctx, Filter{Query: "100%_"})
	s.Require().NoError(err)
	s.Len(literal, 1)

	wildcard, err := s.repo.List(s.ctx, Filter{Query: "%"})
	s.Require().NoError(err)
	s.Len(wildcard, 1)

	page, err := s.repo.List(s.ctx, Filter{Limit: 2, Offset: 2})
	s.Require().NoError(err)
	s.Len(page, 1)
}

func (s *RepositorySuite) TestFindBy() {
	s.newRecord("Ada Obi", "CSC/2020/001")

	found, err := s.repo.FindBy(s.ctx, FieldMatricNumber, "CSC/2020/001")
	s.Require().NoError(err)
	s.Len(found, 1)

	_, err = s.repo.FindBy(s.ctx, Field("full_name; DROP TABLE students"), "x")
	s.ErrorIs(err, sentinel.ErrInvalidInput)
}

func (s *RepositorySuite) TestScanLogs() {
	rec := s.newRecord("Ada Obi", "CSC/2020/001")
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.repo.AppendScanLog(s.ctx, AuditEntry{
			ID:         uuid.NewString(),
			StudentID:  rec.ID,
			AdminID:    "admin-1",
			AdminEmail: "admin@university.edu",
			Timestamp:  time.Date(2026, 3, 1, 9, i, 0, 0, time.UTC),
			RawQRData:  "https://verify.example/?id=" + rec.ID,
		}))
	}

	logs, err := s.repo.ListScanLogs(s.ctx, rec.ID, 2)
	s.Require().NoError(err)
	s.Require().Len(logs, 2)
	s.Equal(2, logs[0].Timestamp.Minute())
	s.Equal("admin@university.edu", logs[0].AdminEmail)

	err = s.repo.AppendScanLog(s.ctx, AuditEntry{StudentID: rec.ID})
	s.ErrorIs(err, sentinel.ErrInvalidInput)
}
