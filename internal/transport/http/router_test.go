package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"liveboard/internal/app"
	"liveboard/internal/domain"
	"liveboard/internal/infra/memory"
	"liveboard/internal/logging"
	"liveboard/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCodes string

func (c fixedCodes) NewCode() string { return string(c) }

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.QuizQuestion{
				{ID: "q1", Text: "Capital of France?", Type: domain.QuestionMC, CorrectAnswer: "Paris", IncorrectAnswers: []string{"Rome", "Madrid"}},
				{ID: "q2", Text: "3 + 4?", Type: domain.QuestionMC, CorrectAnswer: "7", IncorrectAnswers: []string{"5", "9"}},
			},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewHandler(Config{
		Store:          m.Store(memory.NewDocStore()),
		Quizzes:        memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuizzes()), time.Minute),
		Logger:         logging.NewWithOutput("liveboard-test", "error", io.Discard),
		Metrics:        m,
		Gatherer:       reg,
		ManagerOptions: []app.Option{app.WithCodeGenerator(fixedCodes("ABC123"))},
	})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, reg
}

type caller struct {
	t       *testing.T
	base    string
	headers map[string]string
}

func (c caller) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	var out map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func TestBroadcastFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	teacher := caller{t: t, base: srv.URL, headers: map[string]string{HeaderTeacherID: "t1"}}

	status, body := teacher.do(http.MethodPost, "/broadcast/session", map[string]any{
		"widgetId": "w1", "widgetType": "timer", "config": map[string]int{"seconds": 30},
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "ABC123", body["code"])
	assert.Equal(t, true, body["isActive"])

	anon := caller{t: t, base: srv.URL, headers: map[string]string{HeaderStudentID: "uid-1"}}
	status, body = anon.do(http.MethodPost, "/broadcast/join", map[string]string{"name": "Ada", "code": " abc-123 "})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "t1", body["teacherId"])
	rosterID, _ := body["studentId"].(string)
	require.NotEmpty(t, rosterID)

	student := caller{t: t, base: srv.URL, headers: map[string]string{HeaderSessionOwner: "t1", HeaderStudentID: rosterID}}
	status, _ = student.do(http.MethodPost, "/broadcast/heartbeat", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = teacher.do(http.MethodPost, "/broadcast/students/"+rosterID+"/freeze", map[string]string{"currentStatus": "active"})
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = teacher.do(http.MethodPatch, "/broadcast/session/background", map[string]string{"background": "green"})
	assert.Equal(t, http.StatusNoContent, status)

	status, body = teacher.do(http.MethodGet, "/broadcast/session", nil)
	require.Equal(t, http.StatusOK, status)
	students, _ := body["students"].([]any)
	require.Len(t, students, 1)
	assert.Equal(t, "frozen", students[0].(map[string]any)["status"])

	status, _ = teacher.do(http.MethodPost, "/broadcast/session/end", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = teacher.do(http.MethodPatch, "/broadcast/session/config", map[string]any{"config": map[string]int{}})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", body["kind"])

	status, body = anon.do(http.MethodPost, "/broadcast/join", map[string]string{"name": "Bob", "code": "ABC123"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["kind"])
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	teacher := caller{t: t, base: srv.URL, headers: map[string]string{HeaderTeacherID: "t1"}}

	status, body := teacher.do(http.MethodPost, "/broadcast/session", map[string]any{"widgetType": "timer"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "widgetId", body["field"])

	status, _ = teacher.do(http.MethodPost, "/quiz/session/advance", nil)
	assert.Equal(t, http.StatusNotFound, status)

	nobody := caller{t: t, base: srv.URL}
	status, body = nobody.do(http.MethodPost, "/quiz/answer", map[string]string{"questionId": "q1", "answer": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, HeaderSessionOwner, body["field"])

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/quiz/session", strings.NewReader("{"))
	req.Header.Set(HeaderTeacherID, "t1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStatusForStoreErrorsIsRetryable(t *testing.T) {
	status, body := errorPayload(domain.StoreError("put", io.ErrUnexpectedEOF))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.True(t, body.Retryable)
	assert.NotContains(t, body.Error, "unexpected EOF")

	status, body = errorPayload(io.EOF)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", body.Kind)
}

func TestQuizFlowOverREST(t *testing.T) {
	srv, reg := newTestServer(t)
	teacher := caller{t: t, base: srv.URL, headers: map[string]string{HeaderTeacherID: "t1"}}

	status, body := teacher.do(http.MethodPost, "/quiz/session", map[string]string{"quizId": "quiz-1"})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "ABC123", body["code"])

	status, body = teacher.do(http.MethodPost, "/quiz/session", map[string]string{"quizId": "nope"})
	assert.Equal(t, http.StatusNotFound, status)

	joiner := caller{t: t, base: srv.URL, headers: map[string]string{HeaderStudentID: "u1"}}
	status, body = joiner.do(http.MethodPost, "/quiz/join", map[string]string{"code": "abc123", "name": "Ada"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "t1", body["teacherId"])

	student := caller{t: t, base: srv.URL, headers: map[string]string{HeaderStudentID: "u1", HeaderSessionOwner: "t1"}}
	status, body = student.do(http.MethodPost, "/quiz/answer", map[string]string{"questionId": "q1", "answer": "Paris"})
	assert.Equal(t, http.StatusConflict, status, "quiz not started yet")

	status, body = teacher.do(http.MethodPost, "/quiz/session/advance", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", body["status"])

	status, _ = student.do(http.MethodPost, "/quiz/answer", map[string]string{"questionId": "q1", "answer": "Paris"})
	assert.Equal(t, http.StatusNoContent, status)
	status, body = student.do(http.MethodPost, "/quiz/answer", map[string]string{"questionId": "q1", "answer": "Rome"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, domain.ErrAlreadyAnswered.Error(), body["error"])

	status, body = student.do(http.MethodPost, "/quiz/tab-switch", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["warnings"])
	status, _ = student.do(http.MethodPost, "/quiz/complete", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = teacher.do(http.MethodPost, "/quiz/session/end", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = teacher.do(http.MethodGet, "/quiz/session/results", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 50, body["classAverage"])
	assert.Equal(t, "ended", body["status"])

	status, _ = caller{t: t, base: srv.URL}.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)

	families, err := reg.Gather()
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, f := range families {
		seen[f.GetName()] = true
	}
	assert.True(t, seen["liveboard_http_requests_total"])
	assert.True(t, seen["liveboard_docstore_operations_total"])
	assert.True(t, seen["liveboard_quiz_answers_total"])
}
