package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/GuiaIA/internal/messaging"
	"github.com/BTreeMap/GuiaIA/internal/models"
	"github.com/BTreeMap/GuiaIA/internal/twiliowhatsapp"
)

type fixedStats int

func (f fixedStats) Len() int { return int(f) }

func TestHealthHandler(t *testing.T) {
	srv := NewServer(fixedStats(3), WithChannel("twilio"))

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, PathHealth, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp struct {
		Status string `json:"status"`
		Result Health `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("status = %q, want %q", resp.Status, models.APIStatusOK)
	}
	if resp.Result.Conversations != 3 || resp.Result.Channel != "twilio" {
		t.Errorf("result = %+v, want 3 conversations on twilio", resp.Result)
	}
}

func TestHealthHandlerMethodNotAllowed(t *testing.T) {
	srv := NewServer(nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, PathHealth, nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
	if allow := rr.Header().Get("Allow"); allow != http.MethodGet {
		t.Errorf("Allow = %q, want %q", allow, http.MethodGet)
	}
}

func TestWebhookRoutedOnlyWhenConfigured(t *testing.T) {
	form := url.Values{"From": {"whatsapp:+34600000000"}, "Body": {"hola"}}
	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, PathTwilioWebhook, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req
	}

	rr := httptest.NewRecorder()
	NewServer(nil).Handler().ServeHTTP(rr, newReq())
	if rr.Code != http.StatusNotFound {
		t.Errorf("without webhook: status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	srv := NewServer(nil, WithTwilioWebhook(svc.TwilioWebhookHandler))
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, newReq())
	if rr.Code != http.StatusOK {
		t.Errorf("with webhook: status = %d, want %d", rr.Code, http.StatusOK)
	}

	select {
	case msg := <-svc.Inbound():
		if msg.Body != "hola" {
			t.Errorf("body = %q, want hola", msg.Body)
		}
	default:
		t.Fatal("webhook did not reach the service")
	}
}

func TestWriteJSONResponseFallsBackOnMarshalError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]interface{}{"bad": make(chan int)})
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rr.Body.String(), "Internal server error") {
		t.Errorf("body = %q, want the fallback error", rr.Body.String())
	}
}
