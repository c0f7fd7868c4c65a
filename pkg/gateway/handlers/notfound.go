package handlers

import (
	"net/http"

	"github.com/parlance-ai/parlance/pkg/core"
	"github.com/parlance-ai/parlance/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeCoreErrorJSON(w, reqID, &core.Error{
		Type:    core.ErrInvalidRequest,
		Message: "not found",
		Code:    "not_found",
	}, http.StatusNotFound)
}
