package metrics

import "time"

// LandMetrics observes keeper and sync-engine activity. Implementations live
// in pkg/metrics/prometheus; a nil value disables observation.
type LandMetrics interface {
	// ObserveTick records one completed keeper tick.
	ObserveTick(landType string, duration time.Duration)

	// ObserveCommand records one processed command by kind
	// (join, leave, action, clientEvent, admin).
	ObserveCommand(landType, kind string, duration time.Duration)

	// ObserveSync records one computed state update: the mode chosen, the
	// patch count and the encoded payload size.
	ObserveSync(landType, mode string, patches, bytes int)

	// SetPlayerCount records the current joined-player count of a land.
	SetPlayerCount(landType string, count int)

	// LandStarted and LandTerminated track the live land gauge.
	LandStarted(landType string)
	LandTerminated(landType string)

	// DroppedFrame counts a sync frame dropped under backpressure.
	DroppedFrame(landType string)
}

// SessionMetrics observes transport session churn.
type SessionMetrics interface {
	SessionOpened()
	SessionClosed(reason string)
}

// NewLandMetrics returns the Prometheus-backed LandMetrics, or nil when
// metrics are disabled. The constructor indirection keeps this package free
// of a prometheus import cycle with its implementation package.
func NewLandMetrics() LandMetrics {
	if !IsEnabled() || newPrometheusLandMetrics == nil {
		return nil
	}
	return newPrometheusLandMetrics()
}

// NewSessionMetrics returns the Prometheus-backed SessionMetrics, or nil
// when metrics are disabled.
func NewSessionMetrics() SessionMetrics {
	if !IsEnabled() || newPrometheusSessionMetrics == nil {
		return nil
	}
	return newPrometheusSessionMetrics()
}

var (
	newPrometheusLandMetrics    func() LandMetrics
	newPrometheusSessionMetrics func() SessionMetrics
)

// RegisterLandMetricsConstructor is called by pkg/metrics/prometheus during
// package initialization.
func RegisterLandMetricsConstructor(constructor func() LandMetrics) {
	newPrometheusLandMetrics = constructor
}

// RegisterSessionMetricsConstructor is called by pkg/metrics/prometheus
// during package initialization.
func RegisterSessionMetricsConstructor(constructor func() SessionMetrics) {
	newPrometheusSessionMetrics = constructor
}

// ObserveTick is the nil-safe form of LandMetrics.ObserveTick.
func ObserveTick(m LandMetrics, landType string, duration time.Duration) {
	if m != nil {
		m.ObserveTick(landType, duration)
	}
}

// ObserveCommand is the nil-safe form of LandMetrics.ObserveCommand.
func ObserveCommand(m LandMetrics, landType, kind string, duration time.Duration) {
	if m != nil {
		m.ObserveCommand(landType, kind, duration)
	}
}

// ObserveSync is the nil-safe form of LandMetrics.ObserveSync.
func ObserveSync(m LandMetrics, landType, mode string, patches, bytes int) {
	if m != nil {
		m.ObserveSync(landType, mode, patches, bytes)
	}
}

// SetPlayerCount is the nil-safe form of LandMetrics.SetPlayerCount.
func SetPlayerCount(m LandMetrics, landType string, count int) {
	if m != nil {
		m.SetPlayerCount(landType, count)
	}
}

// LandStarted is the nil-safe form of LandMetrics.LandStarted.
func LandStarted(m LandMetrics, landType string) {
	if m != nil {
		m.LandStarted(landType)
	}
}

// LandTerminated is the nil-safe form of LandMetrics.LandTerminated.
func LandTerminated(m LandMetrics, landType string) {
	if m != nil {
		m.LandTerminated(landType)
	}
}

// DroppedFrame is the nil-safe form of LandMetrics.DroppedFrame.
func DroppedFrame(m LandMetrics, landType string) {
	if m != nil {
		m.DroppedFrame(landType)
	}
}

// SessionOpened is the nil-safe form of SessionMetrics.SessionOpened.
func SessionOpened(m SessionMetrics) {
	if m != nil {
		m.SessionOpened()
	}
}

// SessionClosed is the nil-safe form of SessionMetrics.SessionClosed.
func SessionClosed(m SessionMetrics, reason string) {
	if m != nil {
		m.SessionClosed(reason)
	}
}
