package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore wraps user lookup and password policy.
type CredentialStore struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cost        int
	maxAge      time.Duration
}

func NewCredentialStore(db *sql.DB, m repomanager.RepositoryManager, cost int, maxAge time.Duration) *CredentialStore {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &CredentialStore{db: db, repomanager: m, cost: cost, maxAge: maxAge}
}

// NormalizeEmail is applied to every email before it touches the store.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindByEmail returns common.ErrorNotFound when no user has that email.
func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByEmail(ctx, NormalizeEmail(email))
}

// VerifyPassword compares candidate with the stored bcrypt hash.
func (s *CredentialStore) VerifyPassword(user *models.User, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(candidate)) == nil
}

// IsPasswordStale reports whether the user must rotate the password before
// logging in. A missing timestamp counts as stale.
func (s *CredentialStore) IsPasswordStale(user *models.User) bool {
	if user.PasswordUpdatedAt == nil {
		return true
	}
	return now().Sub(*user.PasswordUpdatedAt) > s.maxAge
}

// HashPassword returns a bcrypt hash or common.ErrorValidation for passwords
// bcrypt cannot take.
func (s *CredentialStore) HashPassword(password string) (string, error) {
	if password == "" {
		return "", common.ErrorValidation
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", common.ErrorValidation
		}
		return "", err
	}
	return string(h), nil
}

// UpdatePassword re-hashes and stamps password_updated_at with the current time.
func (s *CredentialStore) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.setPasswordHash(ctx, s.db, userID, hash)
}

func (s *CredentialStore) setPasswordHash(ctx context.Context, db dbx.DBTX, userID, hash string) error {
	return s.repomanager.Users(db).UpdatePassword(ctx, userID, hash, now().UTC())
}
