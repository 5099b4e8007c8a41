// Package server provides the HTTP server for the shuttlecock speed analyzer.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/shuttlespeed/internal/app"
	"github.com/ayusman/shuttlespeed/internal/capture"
	"github.com/ayusman/shuttlespeed/internal/server/api"
	"github.com/ayusman/shuttlespeed/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store

	// App runs analyses. Without it the API is read-only.
	App *app.App

	// OpenSource reopens clips for the review stream. Defaults to capture.OpenVideo.
	OpenSource func(path string) (capture.Source, error)
}

// Server represents the HTTP server for the application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.OpenSource == nil {
		config.OpenSource = capture.OpenVideo
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// Register analysis API handler if Store is configured
	if s.config.Store != nil {
		var runner api.Runner
		if s.config.App != nil {
			runner = s.config.App
		}
		analysisHandler := api.NewAnalysisHandler(s.config.Store, runner)
		streamHandler := NewStreamHandler(s.config.Store, s.config.OpenSource)

		var progressHandler http.Handler
		if s.config.App != nil {
			progressHandler = NewProgressHandler(s.config.App)
		}

		// Route /progress and /stream suffixes away from the REST handler
		analysisRouter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/progress"):
				if progressHandler == nil {
					http.Error(w, "Analysis runner not configured", http.StatusServiceUnavailable)
					return
				}
				progressHandler.ServeHTTP(w, r)
			case strings.HasSuffix(r.URL.Path, "/stream"):
				streamHandler.ServeHTTP(w, r)
			default:
				analysisHandler.ServeHTTP(w, r)
			}
		})

		s.mux.Handle("/api/analyses", analysisRouter)
		s.mux.Handle("/api/analyses/", analysisRouter)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

// analysisID extracts {id} from /api/analyses/{id}/{suffix}.
func analysisID(path, suffix string) string {
	path = strings.TrimPrefix(path, "/api/analyses/")
	path = strings.TrimSuffix(path, "/"+suffix)
	if strings.Contains(path, "/") {
		return ""
	}
	return path
}
