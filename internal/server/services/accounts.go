package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// NewAccount is the input for provisioning a user.
type NewAccount struct {
	Email     string
	Name      string
	Diagnosis string
	Password  string
	Role      models.Role
}

// AccountService provisions users and reads their decrypted profiles.
type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	creds       *CredentialStore
	cipher      *cryptox.FieldCipher
	audit       AuditWriter
	logger      logging.Logger
}

func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, creds *CredentialStore,
	cipher *cryptox.FieldCipher, audit AuditWriter, logger logging.Logger) *AccountService {
	return &AccountService{db: db, repomanager: m, creds: creds, cipher: cipher, audit: audit, logger: logger.With("module", "accounts")}
}

// Create stores a new user with encrypted PII and a fresh password stamp.
func (s *AccountService) Create(ctx context.Context, meta RequestMeta, in NewAccount) (*models.Profile, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || in.Name == "" || !in.Role.Valid() {
		return nil, common.ErrorValidation
	}

	hash, err := s.creds.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, common.ErrorValidation) {
			return nil, err
		}
		return nil, common.ErrorInternal
	}

	name, err := s.cipher.Encrypt(in.Name)
	if err != nil {
		return nil, common.ErrorInternal
	}

	var diagnosis *string
	if in.Diagnosis != "" {
		d, err := s.cipher.Encrypt(in.Diagnosis)
		if err != nil {
			return nil, common.ErrorInternal
		}
		diagnosis = &d
	}

	stamp := now().UTC()
	user := &models.User{
		ID:                uuid.NewString(),
		Email:             email,
		Name:              name,
		Diagnosis:         diagnosis,
		PasswordHash:      hash,
		PasswordUpdatedAt: &stamp,
		Role:              in.Role,
	}

	created, err := s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		s.writeCreateAudit(ctx, meta, nil, false)
		if errors.Is(err, common.ErrorConflict) {
			return nil, common.ErrorConflict
		}
		s.logger.Error(ctx, "user create failed", "email", logging.MaskEmail(email), "error", err)
		return nil, common.ErrorInternal
	}

	s.writeCreateAudit(ctx, meta, created, true)

	return &models.Profile{ID: created.ID, Email: created.Email, Name: in.Name, Diagnosis: in.Diagnosis, Role: created.Role}, nil
}

// Profile loads a user and decrypts the PII fields.
func (s *AccountService) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "profile lookup failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}

	name, err := s.cipher.Decrypt(user.Name)
	if err != nil {
		s.logger.Error(ctx, "profile name decrypt failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}

	p := &models.Profile{ID: user.ID, Email: user.Email, Name: name, Role: user.Role}
	if user.Diagnosis != nil {
		p.Diagnosis, err = s.cipher.Decrypt(*user.Diagnosis)
		if err != nil {
			s.logger.Error(ctx, "profile diagnosis decrypt failed", "user_id", userID, "error", err)
			return nil, common.ErrorInternal
		}
	}

	return p, nil
}

func (s *AccountService) writeCreateAudit(ctx context.Context, meta RequestMeta, target *models.User, success bool) {
	e := models.AuditLogEntry{
		ActorRole:  common.UnknownActor,
		Action:     models.ActionCreateUser,
		TargetType: strPtr("USER"),
		Success:    success,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if meta.Actor != nil {
		e.ActorID = strPtr(meta.Actor.ID)
		e.ActorRole = string(meta.Actor.Role)
	}
	if target != nil {
		e.TargetID = strPtr(target.ID)
		e.Metadata = map[string]string{"role": string(target.Role)}
	}
	s.audit.Write(ctx, e)
}
