package models

import "time"

// AuditLogEntry is an append-only record of a privileged action.
type AuditLogEntry struct {
	ID         string            `json:"id"`
	ActorID    *string           `json:"actorId,omitempty"`
	ActorRole  string            `json:"actorRole"`
	Action     string            `json:"action"`
	TargetType *string           `json:"targetType,omitempty"`
	TargetID   *string           `json:"targetId,omitempty"`
	Success    bool              `json:"success"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Audited actions.
const (
	ActionLoginInitiate     = "LOGIN_INITIATE"
	ActionLoginVerify       = "LOGIN_VERIFY"
	ActionPasswordResetReq  = "PASSWORD_RESET_REQUEST"
	ActionPasswordReset     = "PASSWORD_RESET"
	ActionCreateUser        = "CREATE_USER"
	ActionFetchAuditLogs    = "FETCH_AUDIT_LOGS"
	ActionExportAuditLogs   = "EXPORT_AUDIT_LOGS"
	ActionCodeDeliveryError = "CODE_DELIVERY_FAILED"
)

// Failure reasons stored under metadata["reason"].
const (
	ReasonUserNotFound    = "EMAIL_NOT_FOUND"
	ReasonPasswordStale   = "PASSWORD_STALE"
	ReasonInvalidPassword = "INVALID_PASSWORD"
	ReasonInvalidCode     = "INVALID_CODE"
	ReasonCodeExpired     = "CODE_EXPIRED"
)
