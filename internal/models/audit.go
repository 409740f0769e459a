package models

import "time"

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type AuditAction string

const (
	ActionUserBlock       AuditAction = "USER_BLOCK"
	ActionUserUnblock     AuditAction = "USER_UNBLOCK"
	ActionUserDelete      AuditAction = "USER_DELETE"
	ActionRemoteLock      AuditAction = "REMOTE_LOCK"
	ActionRemoteUnlock    AuditAction = "REMOTE_UNLOCK"
	ActionRemoteSiren     AuditAction = "REMOTE_SIREN"
	ActionRemoteWipe      AuditAction = "REMOTE_WIPE"
	ActionRemoteMsg       AuditAction = "REMOTE_MSG"
	ActionRemotePower     AuditAction = "REMOTE_POWER"
	ActionDBExport        AuditAction = "DB_EXPORT"
	ActionLoginAttempt    AuditAction = "LOGIN_ATTEMPT"
	ActionIdentityInspect AuditAction = "IDENTITY_INSPECT"
)

// ActionForCommand maps a command type to its audit action.
func ActionForCommand(t CommandType) AuditAction {
	switch t {
	case CommandLock:
		return ActionRemoteLock
	case CommandUnlock:
		return ActionRemoteUnlock
	case CommandSiren:
		return ActionRemoteSiren
	case CommandWipe:
		return ActionRemoteWipe
	default:
		return ActionRemoteMsg
	}
}

// AuditLog is append-only. Nothing in this service edits or prunes entries.
type AuditLog struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	ActorID    string      `json:"actor_id"`
	ActorEmail string      `json:"actor_email"`
	Action     AuditAction `json:"action"`
	TargetID   string      `json:"target_id,omitempty"`
	Details    string      `json:"details,omitempty"`
	Severity   Severity    `json:"severity"`
}
