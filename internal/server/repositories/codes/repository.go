// Package codes stores one-time codes, one live row per user per channel.
package codes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/server/models"
)

type Repository interface {
	// Upsert stores code for its user, replacing any previous code.
	Upsert(ctx context.Context, code *models.OneTimeCode) error
	// Find returns the live code for userID or common.ErrorNotFound.
	Find(ctx context.Context, userID string) (*models.OneTimeCode, error)
	// DeleteIfMatch removes the row only if it still holds exactly this code
	// and expiry. It reports whether a row was removed; false means a
	// concurrent verifier or issuer got there first.
	DeleteIfMatch(ctx context.Context, userID, code string, expiresAt time.Time) (bool, error)
}
