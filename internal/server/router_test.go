package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/streamcap/internal/health"
	"github.com/loykin/streamcap/internal/receiver"
	"github.com/loykin/streamcap/internal/recorder"
)

type stubController struct {
	snap         health.Snapshot
	summary      string
	reconnectErr error
	snapshotPath string
	snapshotErr  error
	reconnects   int
}

func (s *stubController) Health() health.Snapshot { return s.snap }
func (s *stubController) Summary() string         { return s.summary }
func (s *stubController) Reconnect() error {
	s.reconnects++
	return s.reconnectErr
}
func (s *stubController) Snapshot() (string, error) { return s.snapshotPath, s.snapshotErr }

func newTestRouter(ctrl Controller, basePath string) http.Handler {
	return NewRouter(ctrl, basePath, false).Handler()
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(&stubController{}, "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestStatusReturnsSnapshot(t *testing.T) {
	ctrl := &stubController{
		snap: health.Snapshot{
			Stream:      receiver.Health{Status: "running", UptimeS: 42, PID: 123},
			Recorder:    recorder.Status{IsRunning: true, OutputDir: "/rec"},
			DiskFreeMiB: 2048,
		},
	}
	h := newTestRouter(ctrl, "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var got health.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "running", got.Stream.Status)
	require.Equal(t, 123, got.Stream.PID)
	require.Equal(t, 2048.0, got.DiskFreeMiB)
	require.True(t, got.Recorder.IsRunning)
}

func TestSummaryIsPlainText(t *testing.T) {
	ctrl := &stubController{summary: "Stream: RUNNING\nDisk Free: 900 MiB"}
	h := newTestRouter(ctrl, "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/summary", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "Stream: RUNNING"))
}

func TestReconnect(t *testing.T) {
	ctrl := &stubController{}
	h := newTestRouter(ctrl, "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reconnect", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, ctrl.reconnects)
}

func TestReconnectError(t *testing.T) {
	ctrl := &stubController{reconnectErr: errors.New("stream unreachable")}
	h := newTestRouter(ctrl, "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reconnect", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "stream unreachable")
}

func TestSnapshotEndpoint(t *testing.T) {
	ctrl := &stubController{snapshotPath: "/snaps/snap_20260823_120000_000.jpg"}
	h := newTestRouter(ctrl, "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/snapshot", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "snap_20260823_120000_000.jpg")
}

func TestBasePathMounting(t *testing.T) {
	h := newTestRouter(&stubController{}, "/api")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSanitizeBase(t *testing.T) {
	require.Equal(t, "", sanitizeBase(""))
	require.Equal(t, "", sanitizeBase("/"))
	require.Equal(t, "/api", sanitizeBase("api"))
	require.Equal(t, "/api", sanitizeBase("/api/"))
	require.Equal(t, "/api/v1", sanitizeBase("/api/v1"))
}
