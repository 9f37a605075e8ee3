package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/qieqieplus/zoom-auto-mute/pkg/feedback"
	"github.com/qieqieplus/zoom-auto-mute/pkg/log"
	"github.com/qieqieplus/zoom-auto-mute/pkg/monitor"
)

// SessionSource exposes the monitor's per-call sessions
type SessionSource interface {
	Sessions() []monitor.SessionInfo
	Session(callID string) (monitor.SessionInfo, bool)
}

// DeviceState reports whether the device control channel is up
type DeviceState interface {
	IsConnected() bool
}

// BusStats exposes feedback delivery statistics
type BusStats interface {
	GetStats() feedback.BusStats
}

// HTTPServer serves the read-only status API
type HTTPServer struct {
	sessions SessionSource
	device   DeviceState
	bus      BusStats
	gatherer prometheus.Gatherer
	started  time.Time
	router   http.Handler
}

// NewHTTPServer creates the status server. gatherer may be nil to omit /metrics.
func NewHTTPServer(sessions SessionSource, device DeviceState, bus BusStats, gatherer prometheus.Gatherer) *HTTPServer {
	server := &HTTPServer{
		sessions: sessions,
		device:   device,
		bus:      bus,
		gatherer: gatherer,
		started:  time.Now(),
	}
	server.registerRoutes()
	return server
}

// ServeHTTP implements the http.Handler interface
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("Received request")
	s.router.ServeHTTP(w, r)
}

func (s *HTTPServer) registerRoutes() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	pr := NewParamRouter()
	pr.Handle(http.MethodGet, "/api/sessions", s.handleListSessions)
	pr.Handle(http.MethodGet, "/api/sessions/{call_id}", s.handleGetSession)
	pr.Handle(http.MethodGet, "/api/feedback", s.handleFeedbackStats)

	s.router = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			pr.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Sessions())
}

func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.sessions.Session(GetPathParam(r, "call_id"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *HTTPServer) handleFeedbackStats(w http.ResponseWriter, r *http.Request) {
	stats := s.bus.GetStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":             stats.TotalNotifications,
		"dropped":           stats.DroppedNotifications,
		"subscribers":       stats.ActiveSubscribers,
		"last_notification": stats.LastNotificationTime,
	})
}

// handleHealth reports 200 while the device is connected and 503 otherwise
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.device.IsConnected()
	status, code := "ok", http.StatusOK
	if !connected {
		status, code = "disconnected", http.StatusServiceUnavailable
	}

	polling := 0
	for _, info := range s.sessions.Sessions() {
		if info.State == monitor.StatePolling.String() {
			polling++
		}
	}

	writeJSON(w, code, map[string]interface{}{
		"status":           status,
		"device_connected": connected,
		"sessions":         polling,
		"uptime":           time.Since(s.started).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("Encoding response failed: %v", err)
	}
}
