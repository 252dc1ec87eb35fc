package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
	"github.com/hthome/hiot/pkg/metrics"
	"github.com/hthome/hiot/pkg/storage"
)

// API is the part of *hiot.Client the bridge calls directly.
type API interface {
	Authenticated() bool
	Households(ctx context.Context) ([]hiot.Household, error)
	DeviceState(ctx context.Context, category, deviceID string) (map[string]any, error)
	ControlDevice(ctx context.Context, category, deviceID string, commands []hiot.Status) (map[string]any, error)
}

// Snapshots is the part of *poller.Poller the bridge reads from.
type Snapshots interface {
	SiteID() string
	Devices() []hiot.Device
	DeviceStates() hiot.DeviceStates
	Energy() hiot.EnergyData
	LastUpdate() time.Time
	LastEnergyUpdate() time.Time
	Refresh()
}

// tokenVerifier validates an OIDC ID token and returns its caller.
type tokenVerifier func(ctx context.Context, rawIDToken string) (user, error)

// Server exposes the polled hiot state and device control over HTTP.
type Server struct {
	api       API
	snapshots Snapshots
	storage   storage.Database
	metrics   *metrics.Metrics

	listenAddr string
	httpServer *http.Server
	serverName string

	verifier tokenVerifier
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(api API, s storage.Database, m *metrics.Metrics) *Server {
	srv := &Server{
		api:        api,
		storage:    s,
		metrics:    m,
		serverName: "hiot",
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcIssuer := lflag.String("oidc-issuer", "", "OIDC issuer URL used to validate bearer tokens (e.g. https://accounts.google.com)")
	oidcAudience := lflag.String("oidc-audience", "", "Audience (client ID) bearer tokens must be issued for")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *oidcIssuer == "" && *oidcAudience == "" {
			return
		}
		if *oidcIssuer == "" || *oidcAudience == "" {
			log.Ctx(context.Background()).Error("oidc-issuer and oidc-audience must be set together")
			os.Exit(1)
		}
		provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
		if err != nil {
			log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
			os.Exit(1)
		}
		srv.verifier = oidcVerifier(provider.Verifier(&oidc.Config{ClientID: *oidcAudience}))
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	s.handle(apiMux, "GET /api/status", s.handleStatus)
	s.handle(apiMux, "GET /api/households", s.handleHouseholds)
	s.handle(apiMux, "GET /api/devices", s.handleDevices)
	s.handle(apiMux, "GET /api/states", s.handleStates)
	s.handle(apiMux, "GET /api/devices/{category}/{deviceID}", s.handleDeviceState)
	s.handle(apiMux, "PUT /api/devices/{category}/{deviceID}", s.handleControlDevice)
	s.handle(apiMux, "GET /api/energy", s.handleEnergy)
	s.handle(apiMux, "GET /api/energy/history", s.handleEnergyHistory)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	s.handle(mux, "GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.requestIDMiddleware(s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux))))
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.WrapHandler(pattern, h))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, snapshots Snapshots) error {
	s.snapshots = snapshots
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// writeUpstreamError maps a hiot client error to a bridge response.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, hiot.ErrAuth):
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
		writeJSONError(w, "upstream authentication failed", http.StatusBadGateway)
	case errors.Is(err, hiot.ErrConnection):
		log.Ctx(ctx).WarnContext(ctx, msg, slog.Any("error", err))
		writeJSONError(w, "upstream unavailable", http.StatusServiceUnavailable)
	default:
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
		writeJSONError(w, "upstream request failed", http.StatusBadGateway)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.api.Authenticated() {
		writeJSONError(w, "not authenticated", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
