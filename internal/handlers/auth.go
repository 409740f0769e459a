package handlers

import (
	"net/http"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/pkg/clientip"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup registers an owner account. Administrators are provisioned out of band.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	user, err := h.Identity.Register(r.Context(), req.Email, req.Password, models.RoleUser)
	if err != nil {
		writeServiceError(w, "signup", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Account created",
		"user":    user,
	})
}

func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	token, user, err := h.Identity.Authenticate(r.Context(), req.Email, req.Password, clientip.RealClientIP(r))
	if err != nil {
		writeServiceError(w, "signin", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Signed in",
		"token":   token,
		"user":    user,
	})
}
