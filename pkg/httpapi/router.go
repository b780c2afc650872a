package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/transit/internal/logger"
	"github.com/marmos91/transit/pkg/transfer"
)

// Dependencies are the services the HTTP handlers need; passed in rather
// than held as package globals so multiple Servers can run in tests.
type Dependencies struct {
	Transfer            *transfer.Coordinator
	MaxUploadSize       int64
	ReceiverWaitTimeout time.Duration
	StaticDir           string
}

// NewRouter builds the chi router for the HTTP adapter: PUT /<uid>/<filename>
// to upload, GET /<uid> (with or without a trailing slash) to download or
// preview, plus health, robots.txt, and, when StaticDir is set, a /static/
// asset mount for whatever the deployment serves alongside the relay
// (favicon, a landing page, etc).
// It returns a chi.Router rather than a bare http.Handler so callers (like
// cmd/transit) can mount additional routes, e.g. the WebSocket adapter's
// /send and /receive, onto the same mux.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h := &handlers{deps: deps}

	// health/robots are short, bounded requests; everything else on this
	// router either long-polls for a receiver (WaitForClientConnected,
	// spec default 300s) or streams a transfer body for as long as the
	// transfer takes (spec §5/§9: HTTP uploads up to 1 GiB, WS transfers
	// unbounded), so a blanket request timeout would abort those mid-stream.
	r.With(middleware.Timeout(10 * time.Second)).Get("/health", h.health)
	r.With(middleware.Timeout(10 * time.Second)).Get("/robots.txt", h.robots)
	r.Put("/{uid}/{filename}", h.upload)
	r.Get("/{uid}", h.download)
	r.Get("/{uid}/", h.download)

	if deps.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(deps.StaticDir))
		r.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	}

	return r
}

// requestLogger logs each request's method, path, status, and duration,
// the same shape the control-plane API's middleware used.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", logger.Duration(start),
		)
	})
}
