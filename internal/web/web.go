package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"availcal/internal/config"
	appLog "availcal/internal/log"
	"availcal/internal/ratelimit"
	"availcal/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Availability is the part of service.Service the HTTP layer needs.
type Availability interface {
	Availability(ctx context.Context, req service.Request) (service.Result, error)
	ClearCache() int
}

// Server exposes the availability API over HTTP.
//
//	GET  /health
//	GET  /api/availability?start=YYYY-MM-DD&end=YYYY-MM-DD&view=dayGridMonth
//	GET  /gcal/v1/availability   (same handler, path used by existing widgets)
//	GET  /metrics                (basic auth when configured)
//	POST /api/cache/clear        (only when basic auth is configured)
type Server struct {
	cfg      *config.Config
	svc      Availability
	gatherer prometheus.Gatherer
	router   *mux.Router
}

// NewServer constructs a new Server. gatherer may be nil to disable
// /metrics.
func NewServer(cfg *config.Config, svc Availability, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		gatherer: gatherer,
		router:   mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(s.router)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/availability", s.handleAvailability).Methods(http.MethodGet)
	s.router.HandleFunc("/gcal/v1/availability", s.handleAvailability).Methods(http.MethodGet)

	if s.gatherer != nil {
		metricsHandler := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
		s.router.Handle("/metrics", s.operatorOnly(metricsHandler)).Methods(http.MethodGet)
	}

	// Clearing the cache forces upstream fetches, so it is never exposed
	// without credentials.
	if s.basicAuthEnabled() {
		s.router.Handle("/api/cache/clear", s.operatorOnly(http.HandlerFunc(s.handleCacheClear))).Methods(http.MethodPost)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleAvailability serves busy blocks or day availability depending on
// the view query parameter.
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.Request{
		Start:  q.Get("start"),
		End:    q.Get("end"),
		View:   q.Get("view"),
		Caller: remoteIP(r),
	}

	res, err := s.svc.Availability(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	n := s.svc.ClearCache()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		appLog.Error("availability: unexpected error", err)
		writeError(w, http.StatusInternalServerError, "Internal error.")
		return
	}

	status := http.StatusInternalServerError
	switch se.Kind {
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindRateLimited:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(int(ratelimit.DefaultWindow.Seconds())))
	case service.KindConfiguration, service.KindUpstream:
		status = http.StatusInternalServerError
	}
	writeError(w, status, se.Message)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// operatorOnly wraps next with HTTP Basic Auth when it is configured.
func (s *Server) operatorOnly(next http.Handler) http.Handler {
	if !s.basicAuthEnabled() {
		return next
	}

	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="availcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// remoteIP is the caller identity used for rate limiting. Only the
// connection address is trusted; forwarding headers are ignored.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		began := time.Now()
		next.ServeHTTP(rec, r)

		appLog.Debug("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(began),
		)
	})
}

// StartServer serves handler on cfg.Listen until ctx is canceled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
