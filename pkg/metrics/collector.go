package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll results
const (
	PollNoData    = "no_data"
	PollBelow     = "below_threshold"
	PollReached   = "threshold_reached"
	PollCancelled = "cancelled"
	PollGaveUp    = "gave_up"
	PollCallGone  = "call_gone"
	PollError     = "error"
)

// Collector exposes the monitor's activity as Prometheus metrics
type Collector struct {
	sessionsActive  prometheus.Gauge
	polls           *prometheus.CounterVec
	incomingRate    *prometheus.GaugeVec
	signals         *prometheus.CounterVec
	feedbackEvents  *prometheus.CounterVec
	deviceConnected prometheus.Gauge
}

// NewCollector registers the collectors on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zoomautomute_sessions_active",
			Help: "Number of Zoom bridge calls currently polled for meeting entry",
		}),

		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zoomautomute_polls_total",
			Help: "Incoming media polls by result",
		}, []string{"result"}),

		incomingRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zoomautomute_incoming_video_rate_bps",
			Help: "Aggregate incoming video channel rate seen by the last poll",
		}, []string{"call_id"}),

		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zoomautomute_signals_total",
			Help: "DTMF signals sent to the Zoom session",
		}, []string{"signal", "status"}),

		feedbackEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zoomautomute_feedback_events_total",
			Help: "Feedback notifications received from the device",
		}, []string{"path"}),

		deviceConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zoomautomute_device_connected",
			Help: "1 while the xAPI connection is up",
		}),
	}
}

func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

func (c *Collector) PollResult(result string) {
	c.polls.WithLabelValues(result).Inc()
}

func (c *Collector) IncomingRate(callID string, bps int64) {
	c.incomingRate.WithLabelValues(callID).Set(float64(bps))
}

// ForgetCall drops per-call series once the call is gone
func (c *Collector) ForgetCall(callID string) {
	c.incomingRate.DeleteLabelValues(callID)
}

func (c *Collector) SignalSent(signal string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.signals.WithLabelValues(signal, status).Inc()
}

func (c *Collector) FeedbackReceived(path string) {
	c.feedbackEvents.WithLabelValues(path).Inc()
}

func (c *Collector) SetDeviceConnected(connected bool) {
	c.deviceConnected.Set(float64(boolToInt(connected)))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FormatRate renders a bit rate for logs
func FormatRate(bps int64) string {
	switch {
	case bps >= 1000000:
		return strconv.FormatFloat(float64(bps)/1e6, 'f', 2, 64) + " Mbps"
	case bps >= 1000:
		return strconv.FormatFloat(float64(bps)/1e3, 'f', 1, 64) + " kbps"
	default:
		return strconv.FormatInt(bps, 10) + " bps"
	}
}
