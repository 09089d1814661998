package services

import (
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/server/models"
)

// now is a seam for tests.
var now = time.Now

// Actor identifies an authenticated caller.
type Actor struct {
	ID   string
	Role models.Role
}

// RequestMeta carries per-request facts recorded in the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
	Actor     *Actor
}

func strPtr(s string) *string {
	return &s
}
