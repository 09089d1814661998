package common

// AuthorizationHeaderName carries the session token as "Bearer <token>".
const AuthorizationHeaderName = "Authorization"

// SessionCookieName is the HttpOnly cookie set after a successful login.
const SessionCookieName = "token"

// UnknownActor is recorded in audit entries when no user could be resolved.
const UnknownActor = "UNKNOWN"
