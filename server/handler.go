// Package server is the HTTP front of glovebox: it maps javadoc URLs to
// content lookups and turns the results into cacheable responses.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/glovebox/javadoc"
)

// placeholder stylesheet some javadoc versions link to without shipping it
const dejavuCSS = "resources/fonts/dejavu.css"

const cacheControl = "max-age=3600"

// Content answers file lookups inside javadoc jars.
type Content interface {
	Get(ctx context.Context, group, name, version, path string) (*javadoc.Entry, error)
}

// Options for NewHandler.
type Options struct {
	// NotFoundPage is the HTML body of 404 responses.
	NotFoundPage []byte
	// Registerer receives the request metrics. Nil disables them.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   log.Logger
}

// Handler serves javadoc content.
type Handler struct {
	content  Content
	notFound []byte
	gatherer prometheus.Gatherer
	logger   log.Logger

	duration *prometheus.HistogramVec
}

// NewHandler creates a Handler backed by content.
func NewHandler(content Content, opt Options) *Handler {
	logger := opt.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	notFound := opt.NotFoundPage
	if notFound == nil {
		notFound = []byte(DefaultNotFoundPage)
	}
	h := &Handler{
		content:  content,
		notFound: notFound,
		gatherer: opt.Gatherer,
		logger:   log.With(logger, "component", "http"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "glovebox",
			Name:      "request_duration_seconds",
			Help:      "Time (in seconds) spent serving HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
	}
	if opt.Registerer != nil {
		opt.Registerer.MustRegister(h.duration)
	}
	return h
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// javadoc: the bare version is redirected so relative links resolve
	r.HandleFunc("/javadoc/{group}/{name}/{version}", h.RedirectHandler).Methods("GET", "HEAD")
	r.HandleFunc("/javadoc/{group}/{name}/{version}/{path:.*}", h.ContentHandler).Methods("GET", "HEAD")

	// health and metrics
	r.HandleFunc("/ready", h.ReadyHandler).Methods("GET")
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	r.NotFoundHandler = http.HandlerFunc(h.NotFoundHandler)
}

// Router returns the complete handler: routes wrapped with default headers,
// access logging, metrics and gzip.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	r.Use(h.instrument)
	return defaultHeaders(gzhttp.GzipHandler(h.accessLog(r)))
}

// RedirectHandler redirects /javadoc/{group}/{name}/{version} to the same path
// with a trailing slash.
func (h *Handler) RedirectHandler(w http.ResponseWriter, r *http.Request) {
	version := mux.Vars(r)["version"]
	level.Debug(h.logger).Log("msg", "redirecting", "uri", r.RequestURI)
	http.Redirect(w, r, "./"+version+"/", http.StatusFound)
}

// ContentHandler serves one file out of a javadoc jar.
func (h *Handler) ContentHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	group, name, version, path := vars["group"], vars["name"], vars["version"], vars["path"]

	if path == dejavuCSS {
		// answer it so it doesn't show an error in the network log
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", cacheControl)
		w.WriteHeader(http.StatusOK)
		return
	}

	entry, err := h.content.Get(r.Context(), group, name, version, path)
	switch {
	case errors.Is(err, javadoc.ErrContentMissing):
		level.Debug(h.logger).Log("msg", "javadoc not found", "group", group, "name", name, "version", version, "path", path, "err", err)
		h.NotFoundHandler(w, r)
		return
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// client went away
		return
	case err != nil:
		level.Warn(h.logger).Log("msg", "unexpected error serving javadoc", "group", group, "name", name, "version", version, "path", path, "err", err)
		http.Error(w, "Internal Server Error.", http.StatusInternalServerError)
		return
	}

	etag := `"` + entry.ETag + `"`
	if status, ok := checkPreconditions(r, etag); !ok {
		w.Header().Set("ETag", etag)
		w.WriteHeader(status)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", entry.ContentType)
	if cacheable(entry.ContentType) {
		w.Header().Set("Cache-Control", cacheControl)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Bytes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Bytes)
}

// NotFoundHandler writes the configured 404 page.
func (h *Handler) NotFoundHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(h.notFound)
}

// ReadyHandler reports readiness.
func (h *Handler) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ready"))
}

// checkPreconditions evaluates If-Match then If-None-Match against etag. It
// returns the status to answer with when the request must not proceed.
func checkPreconditions(r *http.Request, etag string) (int, bool) {
	if im := r.Header.Get("If-Match"); im != "" && !etagMatches(im, etag) {
		return http.StatusPreconditionFailed, false
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && etagMatches(inm, etag) {
		return http.StatusNotModified, false
	}
	return 0, true
}

// etagMatches reports whether the comma separated list in header contains etag
// or "*". Weak validators compare by their opaque tag.
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func cacheable(contentType string) bool {
	mt, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(mt) {
	case "text/html", "text/css", "text/javascript", "application/javascript":
		return true
	}
	return false
}

func defaultHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "Microsoft-IIS/8.5")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		level.Info(h.logger).Log(
			"msg", "request",
			"method", r.Method,
			"uri", r.RequestURI,
			"status", rec.code(),
			"duration", time.Since(start),
		)
	})
}

// instrument is a mux middleware; it only sees matched routes.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "other"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		h.duration.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Observe(time.Since(start).Seconds())
	})
}
