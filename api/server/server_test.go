package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/share-recovery/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T, pprof bool) *Server {
	srv, err := New(&api.ServerConfig{
		ListenAddr:               "127.0.0.1:0",
		EnablePprof:              pprof,
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, pingHandler{})
	require.NoError(t, err)
	return srv
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestServer_Routes(t *testing.T) {
	h := newTestServer(t, false).Handler()

	rr := get(h, "/ping")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pong", rr.Body.String())

	assert.Equal(t, http.StatusOK, get(h, "/livez").Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/debug/pprof/").Code)
}

func TestServer_DrainUndrain(t *testing.T) {
	h := newTestServer(t, false).Handler()

	assert.Equal(t, http.StatusOK, get(h, "/readyz").Code)

	rr := get(h, "/drain")
	assert.Contains(t, rr.Body.String(), `"draining"`)
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/readyz").Code)
	assert.Contains(t, get(h, "/drain").Body.String(), "already draining")

	rr = get(h, "/undrain")
	assert.Contains(t, rr.Body.String(), `"ready"`)
	assert.Equal(t, http.StatusOK, get(h, "/readyz").Code)
	assert.Contains(t, get(h, "/undrain").Body.String(), "already ready")
}

func TestServer_Pprof(t *testing.T) {
	h := newTestServer(t, true).Handler()
	assert.Equal(t, http.StatusOK, get(h, "/debug/pprof/").Code)
}
