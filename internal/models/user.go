package models

import "time"

type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// IsAdmin is true for ADMIN and SUPER_ADMIN.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

type LoginStatus string

const (
	LoginSuccess LoginStatus = "SUCCESS"
	LoginFailed  LoginStatus = "FAILED"
)

type LoginEntry struct {
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
	Status    LoginStatus `bson:"status" json:"status"`
	IP        string      `bson:"ip,omitempty" json:"ip,omitempty"`
}

type AccountStatus string

const (
	AccountActive      AccountStatus = "ACTIVE"
	AccountFlagged     AccountStatus = "FLAGGED"
	AccountNeutralized AccountStatus = "NEUTRALIZED"
)

type UserMetadata struct {
	AccountStatus       AccountStatus `bson:"account_status" json:"account_status"`
	LastKnownRegion     string        `bson:"last_known_region,omitempty" json:"last_known_region,omitempty"`
	TotalCommandsIssued int64         `bson:"total_commands_issued" json:"total_commands_issued"`
}

// User owns devices. Devices live in their own collection and reference OwnerID.
type User struct {
	ID            string       `bson:"_id" json:"id"`
	Email         string       `bson:"email" json:"email"`
	PasswordHash  string       `bson:"password_hash" json:"-"` // Don't return password in JSON
	Role          Role         `bson:"role" json:"role"`
	Blocked       bool         `bson:"blocked" json:"blocked"`
	EmailVerified bool         `bson:"email_verified" json:"email_verified"`
	CreatedAt     time.Time    `bson:"created_at" json:"created_at"`
	LastLogin     *time.Time   `bson:"last_login,omitempty" json:"last_login,omitempty"`
	LoginHistory  []LoginEntry `bson:"login_history" json:"login_history"`
	Metadata      UserMetadata `bson:"metadata" json:"metadata"`
}
