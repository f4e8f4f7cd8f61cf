// Package http exposes the session managers over REST actions and websocket
// subscription streams.
package http

import (
	"net/http"
	"strings"
	"time"

	"liveboard/internal/app"
	"liveboard/internal/docstore"
	"liveboard/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Identity headers. Websocket clients that cannot set headers pass the same
// values as query parameters (teacherId, studentId, owner).
const (
	HeaderTeacherID    = "X-Teacher-ID"
	HeaderStudentID    = "X-Student-ID"
	HeaderSessionOwner = "X-Session-Owner"
)

// Handler serves the broadcast and quiz surfaces. Managers are built per
// request from the caller's identity; all shared state lives in the store.
type Handler struct {
	store    docstore.Store
	quizzes  app.QuizRepository
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	opts     []app.Option
	upgrader websocket.Upgrader
}

// Config wires a Handler. Metrics and Gatherer are optional.
type Config struct {
	Store    docstore.Store
	Quizzes  app.QuizRepository
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// ManagerOptions are applied to every manager the handler builds.
	ManagerOptions []app.Option
}

func NewHandler(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts := append([]app.Option{app.WithLogger(log)}, cfg.ManagerOptions...)
	if cfg.Metrics != nil {
		opts = append(opts, app.WithAnswerRecorder(cfg.Metrics))
	}
	return &Handler{
		store:    cfg.Store,
		quizzes:  cfg.Quizzes,
		log:      log,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the full chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/broadcast", h.broadcastRoutes)
	r.Route("/quiz", h.quizRoutes)
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := h.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		switch {
		case status >= 500:
			entry.Warn("request failed")
		case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	})
}

// identity reads an identity from its header, falling back to a query parameter.
func identity(r *http.Request, header, query string) string {
	if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(query))
}

func teacherID(r *http.Request) string { return identity(r, HeaderTeacherID, "teacherId") }

func studentID(r *http.Request) string { return identity(r, HeaderStudentID, "studentId") }

func sessionOwner(r *http.Request) string { return identity(r, HeaderSessionOwner, "owner") }
