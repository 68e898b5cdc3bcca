// Package testutil provides common test utilities and helpers for GuiaIA tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/GuiaIA/internal/models"
)

// RecordedRequest is a request captured by FakeBackend.
type RecordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

// Decode unmarshals the captured body into v.
func (r RecordedRequest) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		t.Fatalf("failed to decode %s body: %v", r.Path, err)
	}
}

// FakeBackend is an in-process stand-in for the GuiaIA service.
// Handlers can be swapped per test; every request is recorded.
type FakeBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	handlers map[string]http.HandlerFunc
}

// NewFakeBackend starts a backend that serves questions and accepts every answer.
// The server is closed when the test finishes.
func NewFakeBackend(t *testing.T, questions []models.Question) *FakeBackend {
	t.Helper()
	fb := &FakeBackend{handlers: make(map[string]http.HandlerFunc)}

	fb.handlers["/questions"] = JSONHandler(http.StatusOK, models.QuestionsResponse{Questions: questions})
	fb.handlers["/validate-step"] = JSONHandler(http.StatusOK, models.ValidateResponse{OK: true})
	fb.handlers["/compose-initial"] = func(w http.ResponseWriter, r *http.Request) {
		var req models.ComposeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		WriteJSON(w, http.StatusOK, models.ComposeResponse{Prompt: "Prompt con " + req.AnswersClean["a"]})
	}
	fb.handlers["/scorecard"] = JSONHandler(http.StatusOK, models.Scorecard{
		Total:    21,
		Max:      30,
		Criteria: map[string]float64{"rol": 4, "objetivo": 5, "tono": 3, "formato": 4, "longitud": 2, "calidad": 3},
	})
	fb.handlers["/improve-online"] = JSONHandler(http.StatusOK, models.ImproveResponse{Prompt: "Prompt mejorado"})
	fb.handlers["/api/analytics/event"] = JSONHandler(http.StatusOK, models.AnalyticsAck{OK: true, SessionID: "s-1"})

	fb.Server = httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(fb.Server.Close)
	return fb
}

// URL returns the base URL of the fake backend.
func (fb *FakeBackend) URL() string {
	return fb.Server.URL
}

// Handle replaces the handler for path.
func (fb *FakeBackend) Handle(path string, h http.HandlerFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers[path] = h
}

// Requests returns every request received for path, in order.
func (fb *FakeBackend) Requests(path string) []RecordedRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var out []RecordedRequest
	for _, r := range fb.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (fb *FakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	fb.mu.Lock()
	fb.requests = append(fb.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	h, ok := fb.handlers[r.URL.Path]
	fb.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

// JSONHandler always answers with status and body encoded as JSON.
func JSONHandler(status int, body interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, body)
	}
}

// SequenceHandler answers with bodies[i] on the i-th call and repeats the last one.
func SequenceHandler(bodies ...interface{}) http.HandlerFunc {
	var mu sync.Mutex
	calls := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		i := calls
		if i >= len(bodies) {
			i = len(bodies) - 1
		}
		calls++
		mu.Unlock()
		WriteJSON(w, http.StatusOK, bodies[i])
	}
}

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
