// Package handlers binds the engine's components to HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/AnshRaj112/safemobile-backend/internal/audit"
	"github.com/AnshRaj112/safemobile-backend/internal/commands"
	"github.com/AnshRaj112/safemobile-backend/internal/export"
	"github.com/AnshRaj112/safemobile-backend/internal/fleet"
	"github.com/AnshRaj112/safemobile-backend/internal/heartbeat"
	"github.com/AnshRaj112/safemobile-backend/internal/history"
	"github.com/AnshRaj112/safemobile-backend/internal/identity"
	"github.com/AnshRaj112/safemobile-backend/internal/notify"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

type Handler struct {
	Store     store.Store
	Identity  *identity.Service
	Commands  *commands.Dispatcher
	Recorder  *history.Recorder
	Processor *heartbeat.Processor
	Fleet     *fleet.Aggregator
	Audit     *audit.Logger
	Exporter  *export.Exporter
	Hub       *notify.Hub
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// writeServiceError maps component errors onto status codes. Storage details stay in the log.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	status, msg := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, commands.ErrForbidden), errors.Is(err, identity.ErrForbidden), errors.Is(err, export.ErrForbidden):
		status, msg = http.StatusForbidden, "Forbidden"
	case errors.Is(err, identity.ErrBlocked):
		status, msg = http.StatusForbidden, "Account is blocked"
	case errors.Is(err, identity.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, commands.ErrInvalidCommand), errors.Is(err, identity.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrDuplicate):
		status, msg = http.StatusConflict, "Email already registered"
	case errors.Is(err, store.ErrQuotaExceeded):
		status, msg = http.StatusInsufficientStorage, "Storage quota exceeded"
	}
	if status >= http.StatusInternalServerError {
		log.Printf("handlers: %s failed: %v", op, err)
	}
	writeError(w, status, msg)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
