package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls   prometheus.Gauge
	CallEvents    *prometheus.CounterVec
	MediaFrames   *prometheus.CounterVec
	DroppedFrames prometheus.Counter
	BargeIns      prometheus.Counter
	ProxyRequests *prometheus.CounterVec
	PrewarmTotal  *prometheus.CounterVec
	ControlErrors *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of live telephony media bridges.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		MediaFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_frames_total",
			Help:      "Audio frames relayed by direction.",
		}, []string{"direction"}),
		DroppedFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Inbound audio frames dropped on queue overflow.",
		}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Caller interruptions that triggered a playback clear.",
		}),
		ProxyRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Completion proxy requests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		PrewarmTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prewarm_total",
			Help:      "Session prewarm attempts by result.",
		}, []string{"result"}),
		ControlErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_errors_total",
			Help:      "Control surface rejections by reason.",
		}, []string{"reason"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
