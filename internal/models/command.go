package models

import (
	"strings"
	"time"
)

type CommandType string

const (
	CommandLock   CommandType = "LOCK"
	CommandUnlock CommandType = "UNLOCK"
	CommandSiren  CommandType = "SIREN"
	CommandWipe   CommandType = "WIPE"
	CommandMsg    CommandType = "MSG"
)

// ParseCommandType accepts any casing ("lock", "Lock") and reports whether the type is known.
func ParseCommandType(s string) (CommandType, bool) {
	t := CommandType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case CommandLock, CommandUnlock, CommandSiren, CommandWipe, CommandMsg:
		return t, true
	}
	return "", false
}

// TogglesFlag reports whether the dispatcher updates a device flag optimistically for t.
func (t CommandType) TogglesFlag() bool {
	return t == CommandLock || t == CommandUnlock || t == CommandSiren
}

// RemoteCommand is queued by an operator and executed at most once by the device heartbeat.
type RemoteCommand struct {
	ID         string      `bson:"id" json:"id"`
	Type       CommandType `bson:"type" json:"type"`
	Payload    string      `bson:"payload,omitempty" json:"payload,omitempty"`
	Timestamp  time.Time   `bson:"timestamp" json:"timestamp"`
	IsExecuted bool        `bson:"is_executed" json:"is_executed"`
	ExecutedAt *time.Time  `bson:"executed_at,omitempty" json:"executed_at,omitempty"`
	IssuedBy   string      `bson:"issued_by,omitempty" json:"issued_by,omitempty"`

	// DesiredState is the flag value written optimistically at dispatch
	// (LOCK true, UNLOCK false, SIREN the inverse of the alarm state at that moment).
	DesiredState *bool `bson:"desired_state,omitempty" json:"desired_state,omitempty"`
}

func (c RemoteCommand) clone() RemoteCommand {
	if c.ExecutedAt != nil {
		t := *c.ExecutedAt
		c.ExecutedAt = &t
	}
	if c.DesiredState != nil {
		v := *c.DesiredState
		c.DesiredState = &v
	}
	return c
}
