package history

import "github.com/AnshRaj112/safemobile-backend/internal/models"

// Push appends loc to history unless its coordinates repeat the last entry, then evicts the
// oldest entries beyond capacity. The input slice is never modified. Eviction is purely by
// insertion order.
func Push(history []models.DeviceLocation, loc models.DeviceLocation, capacity int) ([]models.DeviceLocation, bool) {
	if capacity < 1 {
		capacity = 1
	}
	if n := len(history); n > 0 && history[n-1].SamePosition(loc) {
		return history, false
	}

	start := 0
	if len(history)+1 > capacity {
		start = len(history) + 1 - capacity
	}
	out := make([]models.DeviceLocation, 0, len(history)-start+1)
	out = append(out, history[start:]...)
	out = append(out, loc)
	return out, true
}
