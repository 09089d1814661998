package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/repomanager"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// Outcome is the result of verifying a one-time code.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeExpired
	OutcomeValid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// randomCode draws uniformly from [100000, 999999] using crypto/rand.
var randomCode = func() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// OneTimeCodeStore issues and verifies single-use codes on one channel.
type OneTimeCodeStore struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	channel     models.Channel
	ttl         time.Duration
}

func NewOneTimeCodeStore(db *sql.DB, m repomanager.RepositoryManager, channel models.Channel, ttl time.Duration) *OneTimeCodeStore {
	return &OneTimeCodeStore{db: db, repomanager: m, channel: channel, ttl: ttl}
}

func (s *OneTimeCodeStore) Channel() models.Channel {
	return s.channel
}

// Issue replaces any live code for userID with a fresh one.
func (s *OneTimeCodeStore) Issue(ctx context.Context, userID string) (*models.OneTimeCode, error) {
	code, err := randomCode()
	if err != nil {
		return nil, err
	}

	c := &models.OneTimeCode{
		UserID:    userID,
		Code:      code,
		ExpiresAt: now().Add(s.ttl).UTC().Truncate(time.Microsecond),
	}
	if err := s.repomanager.Codes(s.db, s.channel).Upsert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Verify checks submitted against the live code and consumes it on success.
func (s *OneTimeCodeStore) Verify(ctx context.Context, userID, submitted string) (Outcome, error) {
	return s.verify(ctx, s.db, userID, submitted)
}

func (s *OneTimeCodeStore) verify(ctx context.Context, db dbx.DBTX, userID, submitted string) (Outcome, error) {
	repo := s.repomanager.Codes(db, s.channel)

	stored, err := repo.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return OutcomeInvalid, nil
		}
		return OutcomeInvalid, err
	}

	if subtle.ConstantTimeCompare([]byte(stored.Code), []byte(submitted)) != 1 {
		return OutcomeInvalid, nil
	}
	if stored.ExpiresAt.Before(now()) {
		return OutcomeExpired, nil
	}

	consumed, err := repo.DeleteIfMatch(ctx, userID, stored.Code, stored.ExpiresAt)
	if err != nil {
		return OutcomeInvalid, err
	}
	if !consumed {
		return OutcomeInvalid, nil
	}
	return OutcomeValid, nil
}
