package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qieqieplus/zoom-auto-mute/pkg/feedback"
	"github.com/qieqieplus/zoom-auto-mute/pkg/monitor"
)

type stubSessions []monitor.SessionInfo

func (s stubSessions) Sessions() []monitor.SessionInfo { return s }

func (s stubSessions) Session(callID string) (monitor.SessionInfo, bool) {
	for _, info := range s {
		if info.CallID == callID {
			return info, true
		}
	}
	return monitor.SessionInfo{}, false
}

type stubDevice bool

func (d stubDevice) IsConnected() bool { return bool(d) }

type stubBus feedback.BusStats

func (b stubBus) GetStats() feedback.BusStats { return feedback.BusStats(b) }

func newTestServer(connected bool) *HTTPServer {
	sessions := stubSessions{
		{CallID: "7", CallbackNumber: "123@zoomcrc.com", State: "polling", StartedAt: time.Now(), Polls: 4, LastRate: 250000},
		{CallID: "9", CallbackNumber: "456@zoomcrc.com", State: "stopped", StartedAt: time.Now()},
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"}))
	return NewHTTPServer(sessions, stubDevice(connected), stubBus{TotalNotifications: 12, DroppedNotifications: 1, ActiveSubscribers: 1}, reg)
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(true), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["device_connected"])
	assert.Equal(t, float64(1), body["sessions"])

	rec = get(t, newTestServer(false), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"disconnected"`)
}

func TestSessions(t *testing.T) {
	srv := newTestServer(true)

	rec := get(t, srv, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var list []monitor.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "7", list[0].CallID)
	assert.Equal(t, int64(250000), list[0].LastRate)

	rec = get(t, srv, http.MethodGet, "/api/sessions/9/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"stopped"`)

	rec = get(t, srv, http.MethodGet, "/api/sessions/404")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, srv, http.MethodDelete, "/api/sessions/7")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestFeedbackStats(t *testing.T) {
	rec := get(t, newTestServer(true), http.MethodGet, "/api/feedback")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(12), body["total"])
	assert.Equal(t, float64(1), body["dropped"])
}

func TestMetrics(t *testing.T) {
	rec := get(t, newTestServer(true), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_total 0"))

	srv := NewHTTPServer(stubSessions{}, stubDevice(true), stubBus{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, srv, http.MethodGet, "/metrics").Code)
}

func TestParamRouter(t *testing.T) {
	pr := NewParamRouter()
	var got string
	pr.Handle("", "/a/{x}/b/{y}", func(w http.ResponseWriter, r *http.Request) {
		got = GetPathParam(r, "x") + "," + GetPathParam(r, "y") + GetPathParam(r, "missing")
	})

	rec := get(t, pr, http.MethodPost, "/a/1/b/2")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1,2", got)

	assert.Equal(t, http.StatusNotFound, get(t, pr, http.MethodGet, "/a/1/b").Code)
	assert.Equal(t, http.StatusNotFound, get(t, pr, http.MethodGet, "/a//b/2").Code)
	assert.Equal(t, http.StatusNotFound, get(t, pr, http.MethodGet, "/c/1/b/2").Code)
}
