package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/parlance-ai/parlance/pkg/core"
	"github.com/parlance-ai/parlance/pkg/gateway/config"
	"github.com/parlance-ai/parlance/pkg/gateway/mw"
	"github.com/parlance-ai/parlance/pkg/gateway/store"
)

// ResponsesHandler relays a supervisor resolution request upstream,
// preserving the upstream status and body. The request is passed through
// opaque except for a JSON well-formedness check; the gateway swaps in the
// server-held key.
type ResponsesHandler struct {
	Config     config.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
	Archive    *store.Store
}

func (h ResponsesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	if !json.Valid(body) {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "request body must be JSON",
		}, http.StatusBadRequest)
		return
	}

	url := strings.TrimRight(h.Config.UpstreamBaseURL, "/") + "/responses"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInternalError("build upstream request"), http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.Config.UpstreamAPIKey)

	start := time.Now()
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		h.logger().Error("relay upstream unreachable", "request_id", reqID, "error", err)
		writeCoreErrorJSON(w, reqID, core.NewUpstreamError("upstream unreachable", 0), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	h.Archive.RecordRelayCall(reqID, archiveKey(r), resp.StatusCode, time.Since(start))

	// Preserve the upstream verdict; the caller owns interpreting it.
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger().Warn("relay body copy interrupted", "request_id", reqID, "error", err)
	}
}

func (h ResponsesHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
