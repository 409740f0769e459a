package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/AnshRaj112/safemobile-backend/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// FleetOverview returns the dashboard snapshot and the map overlay.
func (h *Handler) FleetOverview(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Fleet.Snapshot(r.Context())
	if err != nil {
		writeServiceError(w, "fleet snapshot", err)
		return
	}
	points, err := h.Fleet.MapOverlay(r.Context())
	if err != nil {
		writeServiceError(w, "fleet map", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"snapshot": snap,
		"map":      points,
	})
}

func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	logs, err := h.Audit.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, "audit logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"logs":    logs,
		"count":   len(logs),
	})
}

func (h *Handler) BlockUser(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

func (h *Handler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *Handler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	actor, _ := middleware.ActorFromContext(r.Context())
	if err := h.Identity.SetBlocked(r.Context(), actor, chi.URLParam(r, "id"), blocked); err != nil {
		writeServiceError(w, "set blocked", err)
		return
	}
	msg := "User unblocked"
	if blocked {
		msg = "User blocked"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": msg,
	})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	removed, err := h.Identity.Purge(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "purge user", err)
		return
	}
	for _, id := range removed {
		h.Recorder.Forget(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"message":         "User and devices deleted",
		"removed_devices": removed,
	})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	profile, err := h.Identity.Inspect(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "inspect user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    profile.User,
		"devices": profile.Devices,
	})
}

// Export returns the snapshot URL when it was uploaded, else the snapshot itself as a download.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	res, err := h.Exporter.Export(r.Context(), actor)
	if err != nil {
		writeServiceError(w, "export", err)
		return
	}
	if res.URL != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"url":     res.URL,
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="safemobile-export-%s.json"`, actor.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

// Health reports liveness plus the in-process engine counters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"success": true,
		"status":  "ok",
	}
	if h.Processor != nil {
		body["heartbeat"] = h.Processor.Stats()
	}
	if h.Hub != nil {
		delivered, dropped := h.Hub.Stats()
		body["feed"] = map[string]uint64{"delivered": delivered, "dropped": dropped}
	}
	writeJSON(w, http.StatusOK, body)
}
