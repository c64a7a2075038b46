package handler

import (
	"encoding/json"
	"net/http"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Register handles POST /api/v1/auth/register.
func Register(auth *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		user, err := auth.Register(r.Context(), req.Username, req.Email, req.Password)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, user)
	}
}

// Login handles POST /api/v1/auth/login.
func Login(auth *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		token, user, err := auth.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
	}
}

// Me handles GET /api/v1/auth/me.
func Me(auth *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := auth.Me(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, user)
	}
}

// Refresh handles POST /api/v1/auth/refresh.
func Refresh(auth *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.Refresh(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, tokenResponse{Token: token})
	}
}
