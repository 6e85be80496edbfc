package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"finance-tracker/internal/auth"
	"finance-tracker/internal/cache"
	"finance-tracker/internal/ledger"
	"finance-tracker/internal/models"
	"finance-tracker/internal/storage"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"

	maxBodyBytes = 1 << 20
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	repo   storage.Repository
	ledger *ledger.Service
	tokens *auth.Issuer
	users  *cache.UserCache
	logger *slog.Logger
	now    func() time.Time
}

// NewHandlers creates a new Handlers instance. users may be nil.
func NewHandlers(repo storage.Repository, svc *ledger.Service, tokens *auth.Issuer, users *cache.UserCache, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		repo:   repo,
		ledger: svc,
		tokens: tokens,
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// GetUserFromContext retrieves the authenticated user from request context.
func GetUserFromContext(r *http.Request) *models.User {
	if user, ok := r.Context().Value(UserContextKey).(*models.User); ok {
		return user
	}
	return nil
}

// AuthMiddleware requires a valid bearer token and puts its user in the
// request context. Users are read through the cache when one is configured.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing auth token")
			return
		}

		claims, err := h.tokens.Parse(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}

		user, cached := h.users.Get(r.Context(), claims.Subject)
		if !cached {
			user, err = h.repo.GetUserByID(r.Context(), claims.Subject)
			if errors.Is(err, storage.ErrNotFound) {
				writeJSONError(w, http.StatusUnauthorized, "user from token not found")
				return
			}
			if err != nil {
				h.serverError(w, r, "GetUserByID", err)
				return
			}
			h.users.Set(r.Context(), user)
		}

		if user.Status != models.UserStatusActive {
			writeJSONError(w, http.StatusUnauthorized, "user is inactive")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Health reports whether the server is up.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps ledger and storage errors onto status codes.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSONError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrDuplicate):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrAccountInactive), errors.Is(err, ledger.ErrNotDeletable):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrPartialFailure):
		h.logger.Error(op+" left the ledger incomplete", "error", err, "path", r.URL.Path)
		writeJSONError(w, http.StatusInternalServerError, ledger.ErrPartialFailure.Error())
	default:
		h.serverError(w, r, op, err)
	}
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op+" error", "error", err, "method", r.Method, "path", r.URL.Path)
	writeJSONError(w, http.StatusInternalServerError, "internal server error")
}

// decodeJSON reads a single JSON object into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ledger.ValidationError{Field: "body", Message: describeDecodeError(err)}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &ledger.ValidationError{Field: "body", Message: "must contain a single JSON object"}
	}
	return nil
}

func describeDecodeError(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return "must not be empty"
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		return fmt.Sprintf("invalid value for %q", typeErr.Field)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return "unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field ")
	}
	return err.Error()
}

func invalid(field, message string) error {
	return &ledger.ValidationError{Field: field, Message: message}
}

func checkLength(field, value string, min, max int) error {
	n := len([]rune(strings.TrimSpace(value)))
	if n < min || n > max {
		return invalid(field, fmt.Sprintf("must be between %d and %d characters", min, max))
	}
	return nil
}
