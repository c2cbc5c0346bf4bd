package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fyp-systems/fyp-core/internal/config"
	"github.com/fyp-systems/fyp-core/internal/event"
	"github.com/fyp-systems/fyp-core/internal/idgen"
	"github.com/fyp-systems/fyp-core/internal/inbox"
	"github.com/fyp-systems/fyp-core/internal/orchestrator"
	"github.com/fyp-systems/fyp-core/internal/router"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/internal/supervisor"
	"github.com/fyp-systems/fyp-core/internal/transcript"
)

// Config holds Control Surface configuration.
type Config struct {
	Addr         string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE holds the connection open
	}
}

// Deps are the components the Control Surface routes requests into.
type Deps struct {
	Supervisor   *supervisor.Supervisor
	Inbox        *inbox.Inbox
	Transcript   *transcript.Store
	Orchestrator *orchestrator.Engine
	Storage      *store.Storage
	Bus          *event.Bus
	AppConfig    *config.Config
}

// Server is the Control Surface HTTP server.
type Server struct {
	config *Config
	router *chi.Mux
	httpSrv *http.Server

	supervisor   *supervisor.Supervisor
	inbox        *inbox.Inbox
	transcript   *transcript.Store
	orchestrator *orchestrator.Engine
	storage      *store.Storage
	bus          *event.Bus
	cmdRouter    *router.Router
	appConfig    *config.Config

	pairingMu   sync.Mutex
	pairingCode string
	pairingExp  time.Time

	hookMu        sync.Mutex
	hookDecisions map[string]*hookDecisionEntry // sessionID|signature -> entry
}

// hookDecisionEntry holds one pending-or-delivered hook-bridge decision.
// Once polled by hookPermissionDecision it is marked delivered and garbage
// collected after gcGrace so a slow or duplicate poll still sees it.
type hookDecisionEntry struct {
	decision    map[string]any
	delivered   bool
	deliveredAt time.Time
}

const hookDecisionGCGrace = 20 * time.Second

// New builds a Server wired against deps.
func New(cfg *Config, deps Deps) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:        cfg,
		router:        r,
		supervisor:    deps.Supervisor,
		inbox:         deps.Inbox,
		transcript:    deps.Transcript,
		orchestrator:  deps.Orchestrator,
		storage:       deps.Storage,
		bus:           deps.Bus,
		appConfig:     deps.AppConfig,
		hookDecisions: make(map[string]*hookDecisionEntry),
	}
	s.cmdRouter = router.New(deps.Orchestrator, deps.Storage)

	if s.supervisor != nil {
		s.supervisor.OnHookDecision = s.recordHookDecision
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Hook-Key"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.authenticate)
}

// bearerToken returns the configured bearer token, or "" when auth is
// disabled (local/dev runs with no AppConfig.BearerToken set).
func (s *Server) bearerToken() string {
	if s.appConfig == nil {
		return ""
	}
	return s.appConfig.BearerToken
}

// hookPaths are authenticated by a per-session hook key instead of the
// bearer token: tool-native approval bridges run inside the
// session's own sandbox and never hold the operator's bearer token.
func isHookPath(path string) bool {
	return strings.HasPrefix(path, "/hook/")
}

// authenticate enforces the bearer token on every route except the
// pairing-code exchange and hook-bridge endpoints.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.bearerToken()
		if token == "" || r.URL.Path == "/auth/pairing/exchange" {
			next.ServeHTTP(w, r)
			return
		}

		if isHookPath(r.URL.Path) {
			// Hook bridges may hold either the bearer token or their
			// session's hook key.
			if s.checkHookKey(r) || r.Header.Get("Authorization") == "Bearer "+token {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid hook key")
			return
		}

		if auth := r.Header.Get("Authorization"); auth == "Bearer "+token {
			next.ServeHTTP(w, r)
			return
		}
		if c, err := r.Cookie("fyp_session"); err == nil && c.Value == token {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid bearer token")
	})
}

func (s *Server) checkHookKey(r *http.Request) bool {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		return false
	}
	key := r.Header.Get("X-Hook-Key")
	if key == "" {
		return false
	}
	st, err := s.supervisor.Status(sessionID)
	if err != nil {
		return false
	}
	return st.HookKey != "" && st.HookKey == key
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// IssuePairingCode mints a fresh one-time pairing code, valid for 2 minutes,
// and returns it for the operator to display out-of-band (e.g. printed to
// the CLI's stdout at startup).
func (s *Server) IssuePairingCode() string {
	s.pairingMu.Lock()
	defer s.pairingMu.Unlock()
	s.pairingCode = idgen.NewToken()
	s.pairingExp = time.Now().Add(2 * time.Minute)
	return s.pairingCode
}

func (s *Server) consumePairingCode(code string) bool {
	s.pairingMu.Lock()
	defer s.pairingMu.Unlock()
	if s.pairingCode == "" || code != s.pairingCode || time.Now().After(s.pairingExp) {
		return false
	}
	s.pairingCode = ""
	return true
}

type exchangePairingCodeBody struct {
	Code string `json:"code"`
}

// exchangePairingCode trades a short-lived pairing code for the cookie
// equivalent of the bearer token, for clients (e.g. a mobile
// companion app) that can't hold the operator's bearer token directly.
func (s *Server) exchangePairingCode(w http.ResponseWriter, r *http.Request) {
	var body exchangePairingCodeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "code is required")
		return
	}
	if !s.consumePairingCode(body.Code) {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired pairing code")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "fyp_session",
		Value:    s.bearerToken(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(30 * 24 * time.Hour),
	})
	writeSuccess(w)
}

// Context keys
type contextKey string

const contextKeyDirectory contextKey = "directory"

func getDirectory(ctx context.Context) string {
	if dir, ok := ctx.Value(contextKeyDirectory).(string); ok {
		return dir
	}
	return ""
}
