// Package prometheus holds the Prometheus implementations of the metrics
// interfaces. Importing it for side effects registers the constructors with
// the parent package:
//
//	import _ "github.com/keeperhq/landkit/pkg/metrics/prometheus"
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/keeperhq/landkit/pkg/metrics"
)

func init() {
	metrics.RegisterLandMetricsConstructor(newLandMetrics)
	metrics.RegisterSessionMetricsConstructor(newSessionMetrics)
}

type landMetrics struct {
	tickDuration    *prometheus.HistogramVec
	commandDuration *prometheus.HistogramVec
	syncPatches     *prometheus.HistogramVec
	syncBytes       *prometheus.CounterVec
	players         *prometheus.GaugeVec
	lands           *prometheus.GaugeVec
	droppedFrames   *prometheus.CounterVec
}

func newLandMetrics() metrics.LandMetrics {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}

	return &landMetrics{
		tickDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "landkit_keeper_tick_duration_milliseconds",
				Help:    "Duration of one keeper tick (command drain, onTick, sync)",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 16, 33, 100, 500, 1000},
			},
			[]string{"land_type"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "landkit_keeper_command_duration_milliseconds",
				Help:    "Duration of one keeper command including resolvers",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 50, 100, 1000},
			},
			[]string{"land_type", "kind"},
		),
		syncPatches: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "landkit_sync_patches",
				Help:    "Patches per computed state update by sync mode",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 500},
			},
			[]string{"land_type", "mode"},
		),
		syncBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "landkit_sync_bytes_total",
				Help: "Encoded state update bytes by sync mode",
			},
			[]string{"land_type", "mode"},
		),
		players: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "landkit_land_players",
				Help: "Joined players per land type",
			},
			[]string{"land_type"},
		),
		lands: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "landkit_lands",
				Help: "Live land keepers per land type",
			},
			[]string{"land_type"},
		),
		droppedFrames: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "landkit_sync_dropped_frames_total",
				Help: "Sync frames dropped under session backpressure",
			},
			[]string{"land_type"},
		),
	}
}

func (m *landMetrics) ObserveTick(landType string, duration time.Duration) {
	m.tickDuration.WithLabelValues(landType).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *landMetrics) ObserveCommand(landType, kind string, duration time.Duration) {
	m.commandDuration.WithLabelValues(landType, kind).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *landMetrics) ObserveSync(landType, mode string, patches, bytes int) {
	m.syncPatches.WithLabelValues(landType, mode).Observe(float64(patches))
	m.syncBytes.WithLabelValues(landType, mode).Add(float64(bytes))
}

func (m *landMetrics) SetPlayerCount(landType string, count int) {
	m.players.WithLabelValues(landType).Set(float64(count))
}

func (m *landMetrics) LandStarted(landType string) {
	m.lands.WithLabelValues(landType).Inc()
}

func (m *landMetrics) LandTerminated(landType string) {
	m.lands.WithLabelValues(landType).Dec()
}

func (m *landMetrics) DroppedFrame(landType string) {
	m.droppedFrames.WithLabelValues(landType).Inc()
}

type sessionMetrics struct {
	opened prometheus.Counter
	closed *prometheus.CounterVec
	active prometheus.Gauge
}

func newSessionMetrics() metrics.SessionMetrics {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}

	return &sessionMetrics{
		opened: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "landkit_sessions_opened_total",
			Help: "Transport sessions accepted",
		}),
		closed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "landkit_sessions_closed_total",
				Help: "Transport sessions closed by reason",
			},
			[]string{"reason"},
		),
		active: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "landkit_sessions_active",
			Help: "Currently open transport sessions",
		}),
	}
}

func (m *sessionMetrics) SessionOpened() {
	m.opened.Inc()
	m.active.Inc()
}

func (m *sessionMetrics) SessionClosed(reason string) {
	m.closed.WithLabelValues(reason).Inc()
	m.active.Dec()
}
