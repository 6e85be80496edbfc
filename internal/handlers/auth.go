package handlers

import (
	"errors"
	"net/http"
	"strings"

	"finance-tracker/internal/auth"
	"finance-tracker/internal/models"
	"finance-tracker/internal/storage"

	"github.com/google/uuid"
)

type signUpRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// SignUp registers a new user.
func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "SignUp", err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Name = strings.TrimSpace(req.Name)

	if err := checkLength("username", req.Username, 4, 100); err != nil {
		h.writeError(w, r, "SignUp", err)
		return
	}
	if err := checkLength("name", req.Name, 4, 100); err != nil {
		h.writeError(w, r, "SignUp", err)
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		h.writeError(w, r, "SignUp", invalid("password", err.Error()))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.serverError(w, r, "HashPassword", err)
		return
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Name:         req.Name,
		PasswordHash: hash,
		Status:       models.UserStatusActive,
	}
	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeJSONError(w, http.StatusConflict, "username already taken")
			return
		}
		h.serverError(w, r, "CreateUser", err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// SignIn exchanges credentials for an access token.
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "SignIn", err)
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		h.writeError(w, r, "SignIn", invalid("username", "username and password are required"))
		return
	}

	user, err := h.repo.GetUserByUsername(r.Context(), username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.serverError(w, r, "GetUserByUsername", err)
		return
	}
	if err != nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
		writeJSONError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if user.Status != models.UserStatusActive {
		writeJSONError(w, http.StatusUnauthorized, "user is inactive")
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Username, user.Name)
	if err != nil {
		h.serverError(w, r, "Issue", err)
		return
	}
	h.users.Set(r.Context(), user)

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token})
}
