// Package metrics exposes Prometheus instrumentation for the document store,
// the HTTP surface and quiz answers.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"liveboard/internal/docstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "liveboard"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	StoreOps      *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec
	Subscriptions *prometheus.GaugeVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	QuizAnswers   *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StoreOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "docstore_operations_total",
				Help:      "Document store operations by outcome",
			},
			[]string{"op", "result"},
		),
		StoreDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "docstore_operation_seconds",
				Help:      "Document store operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		Subscriptions: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "docstore_subscriptions",
				Help:      "Open document and collection subscriptions",
			},
			[]string{"kind"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		QuizAnswers: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quiz_answers_total",
				Help:      "Submitted quiz answers by outcome",
			},
			[]string{"result"},
		),
	}
}

// ObserveAnswer counts a submitted answer (correct, incorrect, duplicate, rejected).
func (m *Metrics) ObserveAnswer(result string) {
	if m == nil {
		return
	}
	m.QuizAnswers.WithLabelValues(result).Inc()
}

// Middleware records one sample per request, labelled with the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Store wraps s so every call is counted and timed.
func (m *Metrics) Store(s docstore.Store) docstore.Store {
	if m == nil {
		return s
	}
	return &instrumentedStore{next: s, m: m}
}

type instrumentedStore struct {
	next docstore.Store
	m    *Metrics
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.m.StoreOps.WithLabelValues(op, result(err)).Inc()
	s.m.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, docstore.ErrNotFound):
		return "not_found"
	case errors.Is(err, docstore.ErrConditionFailed):
		return "condition_failed"
	default:
		return "error"
	}
}

func (s *instrumentedStore) Get(ctx context.Context, path string) (docstore.Document, error) {
	start := time.Now()
	doc, err := s.next.Get(ctx, path)
	s.observe("get", start, err)
	return doc, err
}

func (s *instrumentedStore) Put(ctx context.Context, path string, value any) error {
	start := time.Now()
	err := s.next.Put(ctx, path, value)
	s.observe("put", start, err)
	return err
}

func (s *instrumentedStore) Patch(ctx context.Context, path string, fields docstore.Fields) error {
	start := time.Now()
	err := s.next.Patch(ctx, path, fields)
	s.observe("patch", start, err)
	return err
}

func (s *instrumentedStore) PatchIf(ctx context.Context, path string, fields docstore.Fields, conds ...docstore.Filter) error {
	start := time.Now()
	err := s.next.PatchIf(ctx, path, fields, conds...)
	s.observe("patch_if", start, err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := s.next.Delete(ctx, path)
	s.observe("delete", start, err)
	return err
}

func (s *instrumentedStore) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	start := time.Now()
	docs, err := s.next.Query(ctx, collection, filters...)
	s.observe("query", start, err)
	return docs, err
}

func (s *instrumentedStore) Subscribe(ctx context.Context, path string) (<-chan docstore.Snapshot, func(), error) {
	start := time.Now()
	ch, cancel, err := s.next.Subscribe(ctx, path)
	s.observe("subscribe", start, err)
	if err != nil {
		return nil, nil, err
	}
	return ch, s.track(ctx, "document", cancel), nil
}

func (s *instrumentedStore) SubscribeCollection(ctx context.Context, collection string) (<-chan docstore.CollectionSnapshot, func(), error) {
	start := time.Now()
	ch, cancel, err := s.next.SubscribeCollection(ctx, collection)
	s.observe("subscribe_collection", start, err)
	if err != nil {
		return nil, nil, err
	}
	return ch, s.track(ctx, "collection", cancel), nil
}

// track keeps the gauge in step whether the caller cancels or ctx ends first.
func (s *instrumentedStore) track(ctx context.Context, kind string, cancel func()) func() {
	gauge := s.m.Subscriptions.WithLabelValues(kind)
	gauge.Inc()
	var once sync.Once
	done := func() { once.Do(gauge.Dec) }
	stop := context.AfterFunc(ctx, done)
	return func() {
		stop()
		cancel()
		done()
	}
}
