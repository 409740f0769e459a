package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/heartbeat"
	"github.com/AnshRaj112/safemobile-backend/internal/location"
	"github.com/AnshRaj112/safemobile-backend/internal/middleware"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"github.com/go-chi/chi/v5"
)

type registerDeviceRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	OS    string `json:"os"`
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	var req registerDeviceRequest
	if !decode(w, r, &req) {
		return
	}
	dev, token, err := h.Identity.RegisterDevice(r.Context(), actor.ID, req.Name, req.Model, req.OS)
	if err != nil {
		writeServiceError(w, "register device", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":      true,
		"device":       dev,
		"device_token": token,
	})
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	devices, err := h.Store.ListDevicesByOwner(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, "list devices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"devices": devices,
		"count":   len(devices),
	})
}

// visibleDevice loads the {id} device if the caller owns it or is an administrator.
// Devices the caller may not see are reported as missing.
func (h *Handler) visibleDevice(w http.ResponseWriter, r *http.Request) (*models.Device, bool) {
	actor, _ := middleware.ActorFromContext(r.Context())
	dev, err := h.Store.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get device", err)
		return nil, false
	}
	if dev.OwnerID != actor.ID && !actor.Role.IsAdmin() {
		writeServiceError(w, "get device", store.ErrNotFound)
		return nil, false
	}
	return dev, true
}

func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.visibleDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"device":  dev,
	})
}

// DeviceHistory returns the newest ?limit fixes, oldest first.
func (h *Handler) DeviceHistory(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.visibleDevice(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	locs, err := h.Recorder.Recent(r.Context(), dev.ID, limit)
	if err != nil {
		writeServiceError(w, "device history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"history": locs,
		"count":   len(locs),
	})
}

type commandRequest struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

func (h *Handler) SendCommand(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.Commands.Dispatch(r.Context(), actor, chi.URLParam(r, "id"), req.Type, req.Payload)
	if err != nil {
		writeServiceError(w, "dispatch command", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":    true,
		"message":    "Command queued",
		"command_id": id,
	})
}

type powerRequest struct {
	PoweredOff *bool `json:"powered_off"`
}

func (h *Handler) SetPower(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	var req powerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PoweredOff == nil {
		writeError(w, http.StatusBadRequest, "powered_off is required")
		return
	}
	if err := h.Commands.SetPowerState(r.Context(), actor, chi.URLParam(r, "id"), *req.PoweredOff); err != nil {
		writeServiceError(w, "set power", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "Power state updated",
		"powered_off": *req.PoweredOff,
	})
}

// Position fields are pointers so an omitted field is told apart from a real 0.
type heartbeatRequest struct {
	Lat       *float64              `json:"lat"`
	Lng       *float64              `json:"lng"`
	Accuracy  *float64              `json:"accuracy"`
	Timestamp *time.Time            `json:"timestamp"`
	Speed     *float64              `json:"speed"`
	Battery   *int                  `json:"battery"`
	Network   *models.NetworkStatus `json:"network"`
}

// Heartbeat accepts a fix pushed by a handset. The device id comes from its token only.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.DeviceFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid device token")
		return
	}
	var req heartbeatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Lat == nil || req.Lng == nil || req.Accuracy == nil {
		writeError(w, http.StatusBadRequest, "lat, lng and accuracy are required")
		return
	}
	fix := location.Fix{
		Lat:      *req.Lat,
		Lng:      *req.Lng,
		Accuracy: *req.Accuracy,
		Speed:    req.Speed,
		Battery:  req.Battery,
		Network:  req.Network,
	}
	if req.Timestamp != nil {
		fix.Timestamp = req.Timestamp.UTC()
	} else {
		fix.Timestamp = time.Now().UTC()
	}

	res, err := h.Processor.Process(r.Context(), claims.Subject, fix)
	switch {
	case errors.Is(err, heartbeat.ErrDeviceGone):
		writeError(w, http.StatusGone, "Device has been removed")
		return
	case err != nil:
		writeServiceError(w, "heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  res,
	})
}
