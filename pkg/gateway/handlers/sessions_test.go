package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parlance-ai/parlance/pkg/gateway/config"
)

func sessionsConfig(upstreamURL string) config.Config {
	return config.Config{
		UpstreamBaseURL: upstreamURL,
		UpstreamAPIKey:  "sk-upstream",
		DefaultModel:    "gpt-4o-realtime-preview",
		DefaultVoice:    "sage",
		MaxBodyBytes:    1 << 20,
	}
}

func TestSessionsMintRelaysWithServerKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-upstream" {
			t.Errorf("Authorization = %q", got)
		}
		var body mintRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Model != "gpt-4o-realtime-preview" || body.Voice != "sage" {
			t.Errorf("body = %+v", body)
		}
		_, _ = w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"ek_123","expires_at":1735689600}}`))
	}))
	defer upstream.Close()

	h := SessionsHandler{Config: sessionsConfig(upstream.URL), HTTPClient: upstream.Client()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/realtime/sessions", strings.NewReader(`{}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	// Upstream JSON passes through untouched.
	if !strings.Contains(rr.Body.String(), `"value":"ek_123"`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestSessionsMintHonorsOverrides(t *testing.T) {
	var got mintRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"client_secret":{"value":"ek_123"}}`))
	}))
	defer upstream.Close()

	h := SessionsHandler{Config: sessionsConfig(upstream.URL), HTTPClient: upstream.Client()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/realtime/sessions",
		strings.NewReader(`{"model":"gpt-4o-mini-realtime-preview","voice":"alloy"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if got.Model != "gpt-4o-mini-realtime-preview" || got.Voice != "alloy" {
		t.Fatalf("upstream saw %+v", got)
	}
}

func TestSessionsMintUpstreamErrorBecomesEnvelope(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer upstream.Close()

	h := SessionsHandler{Config: sessionsConfig(upstream.URL), HTTPClient: upstream.Client()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/realtime/sessions", strings.NewReader(`{}`)))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != "upstream_error" || env.Error.Message != "Incorrect API key provided" {
		t.Fatalf("error = %+v", env.Error)
	}
}

func TestSessionsMintMissingSecretBecomesEnvelope(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"sess_1"}`))
	}))
	defer upstream.Close()

	h := SessionsHandler{Config: sessionsConfig(upstream.URL), HTTPClient: upstream.Client()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/realtime/sessions", strings.NewReader(`{}`)))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "no client secret") {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestSessionsMintRejectsBadInput(t *testing.T) {
	h := SessionsHandler{Config: sessionsConfig("http://unused.example.com"), HTTPClient: http.DefaultClient}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/realtime/sessions", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/realtime/sessions", strings.NewReader(`{broken`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d", rr.Code)
	}
}
