package services

import (
	"context"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
)

// flowAuditor builds audit entries for the login and reset flows. The
// submitted email is stored encrypted in metadata["email"].
type flowAuditor struct {
	audit  AuditWriter
	cipher *cryptox.FieldCipher
	logger logging.Logger
}

func (f flowAuditor) record(ctx context.Context, meta RequestMeta, action string, user *models.User, email string, success bool, reason string) {
	e := models.AuditLogEntry{
		ActorRole: common.UnknownActor,
		Action:    action,
		Success:   success,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]string{},
	}

	if user != nil {
		e.ActorID = strPtr(user.ID)
		e.ActorRole = string(user.Role)
		e.TargetType = strPtr("USER")
		e.TargetID = strPtr(user.ID)
	}
	if reason != "" {
		e.Metadata["reason"] = reason
	}
	if email != "" {
		enc, err := f.cipher.Encrypt(NormalizeEmail(email))
		if err != nil {
			f.logger.Error(ctx, "cannot encrypt audit email", "email", logging.MaskEmail(email), "error", err)
		} else {
			e.Metadata["email"] = enc
		}
	}

	f.audit.Write(ctx, e)
}
