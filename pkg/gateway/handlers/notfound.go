package handlers

import (
	"net/http"

	"github.com/vango-go/vai-callcenter/pkg/gateway/apierror"
	"github.com/vango-go/vai-callcenter/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusNotFound, &apierror.Error{
		Type:      apierror.NotFound,
		Message:   "not found",
		RequestID: reqID,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err *apierror.Error) {
	if reqID, ok := mw.RequestIDFrom(r.Context()); ok && err.RequestID == "" {
		err.RequestID = reqID
	}
	apierror.Write(w, status, err)
}
