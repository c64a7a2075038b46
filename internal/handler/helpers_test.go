package handler

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
)

// withURLParam invokes h with a chi route context carrying one URL
// parameter, the way the router would.
func withURLParam(req *http.Request, key, val string, h http.HandlerFunc, rec *httptest.ResponseRecorder) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, val)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	h(rec, req)
}
