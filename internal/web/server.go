// Package web serves the bridge over HTTP: the Hue API and discovery
// descriptor, an event stream, metrics and the admin endpoints.
package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"hue-go-bridge/internal/adapter"
	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/scripting"
)

// maxBody caps request bodies on every route.
const maxBody = 1 << 20

// Dispatcher answers Hue API requests.
type Dispatcher interface {
	Dispatch(req bridge.Request) bridge.Response
}

// Manager carries the whole-datastore operations behind /admin.
type Manager interface {
	GetConfig() datastore.Document
	SetConfig(data []byte) error
	ClearConfig() error
	LightIDs() []adapter.LightInfo
}

// Subscriber delivers every bus event.
type Subscriber interface {
	OnAll(h events.Handler) func()
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey protects /admin and /scripts with an X-API-Key header or an
// api_key query parameter. The Hue API keeps its own whitelist.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithScripting mounts /scripts.
func WithScripting(engine *scripting.Engine, mgr *scripting.Manager) ServerOption {
	return func(s *Server) {
		s.scriptEngine = engine
		s.scriptMgr = mgr
	}
}

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by GET /version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP front of the bridge.
type Server struct {
	api            Dispatcher
	manager        Manager
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *scripting.Manager
	scriptEngine   *scripting.Engine
	metrics        http.Handler
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

func NewServer(api Dispatcher, manager Manager, sub Subscriber, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		api:     api,
		manager: manager,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()
	s.unsubEvents = sub.OnAll(s.wsHub.Broadcast)

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for it.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// Everything not claimed below goes to the Hue dispatcher, which
	// answers /api/... and /description.xml and 404s the rest.
	s.mux.HandleFunc("/", s.handleHue)

	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /version", s.handleVersion)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.mux.HandleFunc("GET /admin/export", s.handleAdminExport)
	s.mux.HandleFunc("POST /admin/import", s.handleAdminImport)
	s.mux.HandleFunc("POST /admin/clear", s.handleAdminClear)
	s.mux.HandleFunc("GET /admin/lights", s.handleAdminLights)

	s.mux.HandleFunc("GET /scripts", s.handleListScripts)
	s.mux.HandleFunc("GET /scripts/{id}", s.handleGetScript)
	s.mux.HandleFunc("POST /scripts", s.handleCreateScript)
	s.mux.HandleFunc("PUT /scripts/{id}", s.handleUpdateScript)
	s.mux.HandleFunc("DELETE /scripts/{id}", s.handleDeleteScript)
	s.mux.HandleFunc("POST /scripts/{id}/toggle", s.handleToggleScript)
	s.mux.HandleFunc("POST /scripts/{id}/run", s.handleRunScript)
}

// ServeHTTP implements http.Handler, applying CORS and admin auth.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedOrigins) > 0 {
		if origin := r.Header.Get("Origin"); origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" && protected(r.URL.Path) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func protected(path string) bool {
	return strings.HasPrefix(path, "/admin/") || path == "/scripts" || strings.HasPrefix(path, "/scripts/")
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
