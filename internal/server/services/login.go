package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/auth"
	"github.com/dmitrijs2005/medkeeper/internal/server/delivery"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
)

// StepVerifyCode tells the client to submit the emailed code next.
const StepVerifyCode = "VERIFY_CODE"

type InitiateResult struct {
	Step string `json:"step"`
}

type VerifyResult struct {
	Token string      `json:"token"`
	Role  models.Role `json:"role"`
}

// LoginService runs the two-step login: password, then one-time code.
//
//	START -> PASSWORD_CHECKED -> CODE_ISSUED -> SESSION_ISSUED
//
// Any step may end in a rejection. Every outcome is audited.
type LoginService struct {
	creds    *CredentialStore
	codes    *OneTimeCodeStore
	tokens   *auth.TokenIssuer
	delivery delivery.Channel
	auditor  flowAuditor
	logger   logging.Logger
}

func NewLoginService(creds *CredentialStore, codes *OneTimeCodeStore, tokens *auth.TokenIssuer,
	ch delivery.Channel, audit AuditWriter, cipher *cryptox.FieldCipher, logger logging.Logger) *LoginService {
	l := logger.With("module", "login")
	return &LoginService{
		creds:    creds,
		codes:    codes,
		tokens:   tokens,
		delivery: ch,
		auditor:  flowAuditor{audit: audit, cipher: cipher, logger: l},
		logger:   l,
	}
}

// Initiate checks the password and, on success, issues and delivers a login code.
// The staleness check runs before the password comparison.
func (s *LoginService) Initiate(ctx context.Context, meta RequestMeta, email, password string) (*InitiateResult, error) {
	const action = models.ActionLoginInitiate

	user, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.auditor.record(ctx, meta, action, nil, email, false, models.ReasonUserNotFound)
			return nil, common.ErrorUnauthorized
		}
		s.logger.Error(ctx, "user lookup failed", "email", logging.MaskEmail(email), "error", err)
		return nil, common.ErrorInternal
	}

	if s.creds.IsPasswordStale(user) {
		s.auditor.record(ctx, meta, action, user, email, false, models.ReasonPasswordStale)
		return nil, common.ErrPasswordRotationRequired
	}

	if !s.creds.VerifyPassword(user, password) {
		s.auditor.record(ctx, meta, action, user, email, false, models.ReasonInvalidPassword)
		return nil, common.ErrorUnauthorized
	}

	code, err := s.codes.Issue(ctx, user.ID)
	if err != nil {
		s.logger.Error(ctx, "login code issue failed", "email", logging.MaskEmail(email), "error", err)
		return nil, common.ErrorInternal
	}

	err = s.delivery.Deliver(ctx, delivery.Message{
		UserID:    user.ID,
		Email:     user.Email,
		Channel:   models.ChannelLogin,
		Code:      code.Code,
		ExpiresAt: code.ExpiresAt,
	})
	if err != nil {
		s.logger.Error(ctx, "login code delivery failed", "email", logging.MaskEmail(email), "error", err)
		s.auditor.record(ctx, meta, models.ActionCodeDeliveryError, user, email, false, "")
		return nil, common.ErrorInternal
	}

	s.auditor.record(ctx, meta, action, user, email, true, "")
	s.logger.Info(ctx, "login code issued", "email", logging.MaskEmail(email))

	return &InitiateResult{Step: StepVerifyCode}, nil
}

// Verify consumes the login code and issues a session token.
func (s *LoginService) Verify(ctx context.Context, meta RequestMeta, email, code string) (*VerifyResult, error) {
	const action = models.ActionLoginVerify

	user, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.auditor.record(ctx, meta, action, nil, email, false, models.ReasonUserNotFound)
			return nil, common.ErrorUnauthorized
		}
		s.logger.Error(ctx, "user lookup failed", "email", logging.MaskEmail(email), "error", err)
		return nil, common.ErrorInternal
	}

	outcome, err := s.codes.Verify(ctx, user.ID, code)
	if err != nil {
		s.logger.Error(ctx, "login code verification failed", "email", logging.MaskEmail(email), "error", err)
		return nil, common.ErrorInternal
	}

	switch outcome {
	case OutcomeExpired:
		s.auditor.record(ctx, meta, action, user, email, false, models.ReasonCodeExpired)
		return nil, fmt.Errorf("%w: code expired", common.ErrorUnauthorized)
	case OutcomeInvalid:
		s.auditor.record(ctx, meta, action, user, email, false, models.ReasonInvalidCode)
		return nil, fmt.Errorf("%w: invalid code", common.ErrorUnauthorized)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		s.logger.Error(ctx, "token issue failed", "error", err)
		return nil, common.ErrorInternal
	}

	s.auditor.record(ctx, meta, action, user, email, true, "")

	return &VerifyResult{Token: token, Role: user.Role}, nil
}
