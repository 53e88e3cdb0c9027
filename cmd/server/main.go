package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/config"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/envelope"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/handler"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/provider"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/repository"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/service"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/session"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/token"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := repository.Migrate(ctx, db); err != nil {
		return err
	}
	slog.Info("database ready")

	store := repository.NewStore(db)

	binder, err := newBinder(cfg)
	if err != nil {
		return err
	}

	registry, err := provider.NewRegistry(provider.Config{
		BaseURL: cfg.BaseURL,
		Google:  provider.Credentials{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret},
		GitHub:  provider.Credentials{ClientID: cfg.GitHubClientID, ClientSecret: cfg.GitHubClientSecret},
		GitLab:  provider.Credentials{ClientID: cfg.GitLabClientID, ClientSecret: cfg.GitLabClientSecret},
		ORCID:   provider.Credentials{ClientID: cfg.ORCIDClientID, ClientSecret: cfg.ORCIDClientSecret},
		GitHubApp: provider.AppConfig{
			AppID:         cfg.GitHubAppID,
			Slug:          cfg.GitHubAppSlug,
			PrivateKeyPEM: cfg.GitHubAppPrivateKey,
		},
	})
	if err != nil {
		return fmt.Errorf("configure providers: %w", err)
	}

	tokens := token.NewCodec(cfg.JWTSecret,
		token.WithAccessTTL(cfg.AccessTokenTTL),
		token.WithRefreshTTL(cfg.RefreshTokenTTL),
	)
	envelopes := envelope.NewCodec(cfg.SecretKey)

	accounts := service.NewAccountService(store, tokens, envelopes, service.DefaultHasher)
	oauth := service.NewOAuthService(store, registry, tokens, envelopes, cfg.FrontendURL)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewAppValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(handler.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentType, "X-UID-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	auth := handler.NewAuthMiddleware(tokens, store, binder)
	handler.NewAuthHandler(accounts, oauth).MountRoutes(e, auth)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newBinder picks the session store: Redis when configured, else in-process.
func newBinder(cfg config.Config) (session.Binder, error) {
	if cfg.RedisURL == "" {
		slog.Info("session binding in memory")
		return session.NewMemoryBinder(cfg.SessionTTL), nil
	}
	binder, err := session.NewRedisBinder(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	slog.Info("session binding on redis")
	return binder, nil
}
