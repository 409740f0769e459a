package audit

import "github.com/AnshRaj112/safemobile-backend/internal/models"

// CommandSeverity grades a remote command. WIPE is always critical; a flag-changing command
// sent by an administrator to somebody else's device is high.
func CommandSeverity(t models.CommandType, actorIsAdmin, actorOwnsDevice bool) models.Severity {
	if t == models.CommandWipe {
		return models.SeverityCritical
	}
	if t.TogglesFlag() && actorIsAdmin && !actorOwnsDevice {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

// PowerSeverity grades a power-state change. Switching off somebody else's device is high.
func PowerSeverity(actorIsAdmin, actorOwnsDevice bool) models.Severity {
	if actorIsAdmin && !actorOwnsDevice {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}
