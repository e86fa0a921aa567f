package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/eugenenazirov/anitya-web/internal/config"
	"github.com/eugenenazirov/anitya-web/internal/session"
	"github.com/eugenenazirov/anitya-web/internal/storage"
)

type contextKey string

const (
	requestIDContextKey contextKey = "requestID"
	identityContextKey  contextKey = "identity"
)

const defaultPingTimeout = 2 * time.Second

// Pinger reports database reachability. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Provider is an OpenID provider offered on the login page.
type Provider struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Handler wires configuration, session and registry dependencies into HTTP
// handlers.
type Handler struct {
	providers []Provider
	registry  storage.Registry
	sessions  *session.Manager
	db        Pinger

	clock       func() time.Time
	pingTimeout time.Duration
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithPingTimeout bounds the database ping performed by the health check.
func WithPingTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.pingTimeout = timeout
	}
}

// NewHandler constructs a Handler. db may be nil, in which case the health
// check reports the database as disabled.
func NewHandler(cfg config.Config, registry storage.Registry, sessions *session.Manager, db Pinger, opts ...HandlerOption) *Handler {
	h := &Handler{
		providers: Providers(cfg),
		registry:  registry,
		sessions:  sessions,
		db:        db,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		pingTimeout: defaultPingTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Providers lists the OpenID providers enabled by cfg, in login-page order.
func Providers(cfg config.Config) []Provider {
	providers := make([]Provider, 0, 4)
	if cfg.AllowFASOpenID {
		providers = append(providers, Provider{Name: "fedora", URL: cfg.FedoraOpenID})
	}
	if cfg.AllowGoogleOpenID {
		providers = append(providers, Provider{Name: "google", URL: "https://www.google.com/accounts/o8/id"})
	}
	if cfg.AllowYahooOpenID {
		providers = append(providers, Provider{Name: "yahoo", URL: "https://me.yahoo.com"})
	}
	if cfg.AllowGenericOpenID {
		providers = append(providers, Provider{Name: "openid"})
	}
	return providers
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Database:  "disabled",
		Timestamp: h.clock(),
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, providersResponse{Providers: h.providers})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity == "" {
		writeError(w, http.StatusUnauthorized, "Not logged in", "a valid session cookie is required")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Identity: identity,
		Admin:    h.registry.IsAdmin(identity),
	})
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func identityFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(identityContextKey).(string); ok {
		return id
	}
	return ""
}

type healthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

type providersResponse struct {
	Providers []Provider `json:"providers"`
}

type sessionResponse struct {
	Identity string `json:"identity"`
	Admin    bool   `json:"admin"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
