package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jdtask/backend/internal/auth"
	"github.com/jdtask/backend/internal/models"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Nickname       string `json:"nickname"`
	Role           string `json:"role"`
	JingdouBalance int    `json:"jingdou_balance"`
}

type AuthHandler struct {
	svc auth.Service
	log *slog.Logger
}

func NewAuthHandler(svc auth.Service, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{svc: svc, log: log}
}

// Register handles POST /v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "missing username or password", http.StatusBadRequest)
		return
	}
	u, err := h.svc.Register(r.Context(), req.Username, req.Password, req.Nickname)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userToResponse(u))
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "missing username or password", http.StatusBadRequest)
		return
	}
	token, u, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userToResponse(u),
	})
}

func userToResponse(u *models.User) userResponse {
	return userResponse{
		ID:             u.ID.String(),
		Username:       u.Username,
		Nickname:       u.Nickname,
		Role:           u.Role,
		JingdouBalance: u.JingdouBalance,
	}
}
