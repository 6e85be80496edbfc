package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finance-tracker/internal/auth"
	"finance-tracker/internal/cache"
	"finance-tracker/internal/config"
	"finance-tracker/internal/handlers"
	"finance-tracker/internal/ledger"
	"finance-tracker/internal/models"
	"finance-tracker/internal/storage"

	"github.com/google/uuid"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer repo.Close()

	if err := bootstrapAdmin(ctx, repo, cfg, logger); err != nil {
		return err
	}

	var users *cache.UserCache
	if cfg.RedisAddr != "" {
		users, err = cache.NewUserCache(ctx, cfg.RedisAddr, logger)
		if err != nil {
			// The cache only speeds up auth lookups; run without it.
			logger.Warn("Redis unavailable, user cache disabled", "addr", cfg.RedisAddr, "error", err)
			users = nil
		} else {
			defer users.Close()
		}
	}

	h := handlers.NewHandlers(repo, ledger.NewService(repo, logger), auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL), users, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           logRequests(logger, setupRouter(h)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "env", cfg.Env, "port", cfg.Port, "db_driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("Server exited")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	if cfg.DBDriver == config.DriverPostgres {
		return storage.NewPG(ctx, cfg.DatabaseURL)
	}
	return storage.NewDB(cfg.DBPath)
}

// bootstrapAdmin creates ADMIN_USER on an empty database.
func bootstrapAdmin(ctx context.Context, repo storage.Repository, cfg *config.Config, logger *slog.Logger) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}
	count, err := repo.UserCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     cfg.AdminUser,
		Name:         cfg.AdminUser,
		PasswordHash: hash,
		Status:       models.UserStatusActive,
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	logger.Info("Created admin user", "username", user.Username, "id", user.ID)
	return nil
}

func setupRouter(h *handlers.Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	protected := func(fn http.HandlerFunc) http.Handler {
		return h.AuthMiddleware(fn)
	}

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("POST /auth/sign-up", h.SignUp)
	mux.HandleFunc("POST /auth/sign-in", h.SignIn)

	mux.Handle("GET /accounts", protected(h.ListAccounts))
	mux.Handle("POST /accounts", protected(h.CreateAccount))
	mux.Handle("GET /accounts/{id}", protected(h.GetAccount))
	mux.Handle("PATCH /accounts/{id}", protected(h.UpdateAccount))
	mux.Handle("DELETE /accounts/{id}", protected(h.DeleteAccount))
	mux.Handle("PATCH /accounts/{id}/status", protected(h.UpdateAccountStatus))
	mux.Handle("GET /accounts/{id}/statement", protected(h.Statement))
	mux.Handle("GET /accounts/{id}/statistics", protected(h.Statistics))

	mux.Handle("GET /account-transactions/{accountId}", protected(h.ListTransactions))
	mux.Handle("GET /account-transactions/transaction/{id}", protected(h.GetTransaction))
	mux.Handle("POST /account-transactions", protected(h.CreateTransaction))
	mux.Handle("POST /account-transactions/transfer", protected(h.Transfer))
	mux.Handle("PATCH /account-transactions/{id}", protected(h.UpdateTransaction))
	mux.Handle("DELETE /account-transactions/{id}", protected(h.DeleteTransaction))
	mux.Handle("PATCH /account-transactions/{id}/status", protected(h.UpdateTransactionStatus))

	mux.Handle("GET /tasks", protected(h.ListTasks))
	mux.Handle("POST /tasks", protected(h.CreateTask))
	mux.Handle("GET /tasks/{id}", protected(h.GetTask))
	mux.Handle("PATCH /tasks/{id}", protected(h.UpdateTask))
	mux.Handle("DELETE /tasks/{id}", protected(h.DeleteTask))
	mux.Handle("PATCH /tasks/{id}/status", protected(h.UpdateTaskStatus))

	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
