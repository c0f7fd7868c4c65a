package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parlance-ai/parlance/pkg/core"
	"github.com/parlance-ai/parlance/pkg/gateway/auth"
	"github.com/parlance-ai/parlance/pkg/gateway/config"
	"github.com/parlance-ai/parlance/pkg/gateway/mw"
	"github.com/parlance-ai/parlance/pkg/gateway/ratelimit"
	"github.com/parlance-ai/parlance/pkg/gateway/store"
)

// SessionsHandler mints the ephemeral realtime credential by relaying the
// request to the upstream sessions endpoint with the server-held key. The
// upstream key enters the request here and nowhere else.
type SessionsHandler struct {
	Config     config.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
	Archive    *store.Store
}

type mintRequest struct {
	Model string `json:"model,omitempty"`
	Voice string `json:"voice,omitempty"`
}

func (h SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, reqID)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes))
	if err != nil {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "request body too large or unreadable",
		}, http.StatusBadRequest)
		return
	}

	var mint mintRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &mint); err != nil {
			writeCoreErrorJSON(w, reqID, &core.Error{
				Type:    core.ErrInvalidRequest,
				Message: "malformed request body",
			}, http.StatusBadRequest)
			return
		}
	}
	if strings.TrimSpace(mint.Model) == "" {
		mint.Model = h.Config.DefaultModel
	}
	if strings.TrimSpace(mint.Voice) == "" {
		mint.Voice = h.Config.DefaultVoice
	}

	upstreamBody, err := json.Marshal(mint)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInternalError("encode mint request"), http.StatusInternalServerError)
		return
	}

	url := strings.TrimRight(h.Config.UpstreamBaseURL, "/") + "/realtime/sessions"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(upstreamBody))
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInternalError("build upstream request"), http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.Config.UpstreamAPIKey)

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		h.logger().Error("mint upstream unreachable", "request_id", reqID, "error", err)
		writeCoreErrorJSON(w, reqID, core.NewUpstreamError("upstream unreachable", 0), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.Config.MaxBodyBytes))
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewUpstreamError("read upstream response", resp.StatusCode), http.StatusBadGateway)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger().Warn("mint rejected upstream", "request_id", reqID, "status", resp.StatusCode)
		writeCoreErrorJSON(w, reqID, core.NewUpstreamError(upstreamMessage(raw, "session mint failed"), resp.StatusCode), http.StatusBadGateway)
		return
	}

	var minted struct {
		ID           string `json:"id"`
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := json.Unmarshal(raw, &minted); err != nil || strings.TrimSpace(minted.ClientSecret.Value) == "" {
		h.logger().Error("mint response missing client secret", "request_id", reqID)
		writeCoreErrorJSON(w, reqID, core.NewUpstreamError("upstream returned no client secret", resp.StatusCode), http.StatusBadGateway)
		return
	}

	h.Archive.RecordMintedSession(minted.ID, archiveKey(r), mint.Model, mint.Voice)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(raw)
}

func (h SessionsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// upstreamMessage pulls the upstream error message out of an error body,
// falling back to a fixed message when the body is opaque.
func upstreamMessage(raw []byte, fallback string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && strings.TrimSpace(envelope.Error.Message) != "" {
		return envelope.Error.Message
	}
	return fallback
}

// archiveKey identifies the caller in archive rows without storing the raw
// bearer key.
func archiveKey(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return ratelimit.KeyFromAPIKey(p.APIKey)
	}
	return "anonymous"
}
