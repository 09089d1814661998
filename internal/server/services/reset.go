package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/delivery"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
)

// ResetService issues reset codes and rotates passwords against them.
type ResetService struct {
	db       *sql.DB
	creds    *CredentialStore
	codes    *OneTimeCodeStore
	delivery delivery.Channel
	auditor  flowAuditor
	logger   logging.Logger
}

func NewResetService(db *sql.DB, creds *CredentialStore, codes *OneTimeCodeStore,
	ch delivery.Channel, audit AuditWriter, cipher *cryptox.FieldCipher, logger logging.Logger) *ResetService {
	l := logger.With("module", "reset")
	return &ResetService{
		db:       db,
		creds:    creds,
		codes:    codes,
		delivery: ch,
		auditor:  flowAuditor{audit: audit, cipher: cipher, logger: l},
		logger:   l,
	}
}

// RequestReset issues a reset code. Unknown emails are audited and reported
// as common.ErrorNotFound; the transport decides whether to reveal that.
func (s *ResetService) RequestReset(ctx context.Context, meta RequestMeta, email string) error {
	const action = models.ActionPasswordResetReq

	user, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.auditor.record(ctx, meta, action, nil, email, false, models.ReasonUserNotFound)
			return common.ErrorNotFound
		}
		s.logger.Error(ctx, "user lookup failed", "email", logging.MaskEmail(email), "error", err)
		return common.ErrorInternal
	}

	code, err := s.codes.Issue(ctx, user.ID)
	if err != nil {
		s.logger.Error(ctx, "reset code issue failed", "email", logging.MaskEmail(email), "error", err)
		return common.ErrorInternal
	}

	err = s.delivery.Deliver(ctx, delivery.Message{
		UserID:    user.ID,
		Email:     user.Email,
		Channel:   models.ChannelReset,
		Code:      code.Code,
		ExpiresAt: code.ExpiresAt,
	})
	if err != nil {
		s.logger.Error(ctx, "reset code delivery failed", "email", logging.MaskEmail(email), "error", err)
		s.auditor.record(ctx, meta, models.ActionCodeDeliveryError, user, email, false, "")
		return common.ErrorInternal
	}

	s.auditor.record(ctx, meta, action, user, email, true, "")
	s.logger.Info(ctx, "reset code issued", "email", logging.MaskEmail(email))

	return nil
}

// ConfirmReset consumes the reset code and stores the new password in one
// transaction, so a failed update leaves the code usable.
func (s *ResetService) ConfirmReset(ctx context.Context, meta RequestMeta, email, code, newPassword string) error {
	const action = models.ActionPasswordReset

	user, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.auditor.record(ctx, meta, action, nil, email, false, models.ReasonUserNotFound)
			return common.ErrorUnauthorized
		}
		s.logger.Error(ctx, "user lookup failed", "email", logging.MaskEmail(email), "error", err)
		return common.ErrorInternal
	}

	hash, err := s.creds.HashPassword(newPassword)
	if err != nil {
		if errors.Is(err, common.ErrorValidation) {
			return err
		}
		s.logger.Error(ctx, "password hash failed", "error", err)
		return common.ErrorInternal
	}

	var outcome Outcome
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		outcome, err = s.codes.verify(ctx, tx, user.ID, code)
		if err != nil || outcome != OutcomeValid {
			return err
		}
		return s.creds.setPasswordHash(ctx, tx, user.ID, hash)
	})
	if err != nil {
		s.logger.Error(ctx, "password reset failed", "email", logging.MaskEmail(email), "error", err)
		return common.ErrorInternal
	}

	switch outcome {
	case OutcomeExpired:
		s.auditor.record(ctx, meta, action, user, email, false, models.ReasonCodeExpired)
		return fmt.Errorf("%w: code expired", common.ErrorUnauthorized)
	case OutcomeInvalid:
		s.auditor.record(ctx, meta, action, user, email, false, models.ReasonInvalidCode)
		return fmt.Errorf("%w: invalid code", common.ErrorUnauthorized)
	}

	s.auditor.record(ctx, meta, action, user, email, true, "")
	s.logger.Info(ctx, "password reset", "email", logging.MaskEmail(email))

	return nil
}
