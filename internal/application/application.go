package application

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/anitya-web/internal/api"
	"github.com/eugenenazirov/anitya-web/internal/config"
	"github.com/eugenenazirov/anitya-web/internal/logging"
	"github.com/eugenenazirov/anitya-web/internal/session"
	"github.com/eugenenazirov/anitya-web/internal/storage"
)

// ServerConfig holds the HTTP settings that are not part of the Anitya
// configuration file.
type ServerConfig struct {
	Addr                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
}

// DefaultServerConfig returns the settings used when no flags are given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:                 ":5000",
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         25,
		RateLimitBurst:       50,
	}
}

// App encapsulates the application dependencies and HTTP server.
type App struct {
	registry storage.Registry
	sessions *session.Manager
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server
}

// New initializes the application with all dependencies from the provided
// configuration. db may be nil.
func New(cfg config.Config, srv ServerConfig, logger *zap.Logger, db api.Pinger) (*App, error) {
	sessions, err := session.NewManager(cfg.SecretKey, cfg.PermanentSessionLifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to configure sessions: %w", err)
	}

	registry := storage.NewMemoryRegistry(cfg.WebAdmins, cfg.BlacklistedUsers)
	handler := api.NewHandler(cfg, registry, sessions, db)
	router := api.NewRouter(handler, logger,
		api.WithLogging(srv.EnableRequestLogging),
		api.WithRateLimit(srv.RateLimitRPS, srv.RateLimitBurst),
	)

	return &App{
		registry: registry,
		sessions: sessions,
		handler:  handler,
		router:   router,
		logger:   logger,
		server:   NewServer(srv, router),
	}, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(srv ServerConfig, handler http.Handler) *http.Server {
	addr := srv.Addr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: srv.ReadHeaderTimeout,
		WriteTimeout:      srv.WriteTimeout,
		IdleTimeout:       srv.IdleTimeout,
	}
}

// NewLogger builds the service logger from ANITYA_LOG_CONFIG and, when
// EMAIL_ERRORS is set, mails error entries to ADMIN_EMAIL through SMTP_SERVER.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.FromConfig(cfg.LogConfig)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	if cfg.EmailErrors {
		logger = logging.WithErrorMail(logger, logging.NewSMTPMailer(cfg.SMTPServer), cfg.AdminEmail)
	}
	return logger, nil
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}
