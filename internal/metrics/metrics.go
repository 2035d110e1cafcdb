package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all kiosk metrics
type Metrics struct {
	// Capture and perception counters
	FramesCaptured     atomic.Uint64
	CaptureErrors      atomic.Uint64
	ObservationSamples atomic.Uint64
	CadenceTicks       atomic.Uint64
	FacesDetected      atomic.Uint64

	// Playback protocol counters
	AdRequests       atomic.Uint64
	AcksOK           atomic.Uint64
	AcksFailed       atomic.Uint64
	CatalogFallbacks atomic.Uint64

	// Telemetry delivery
	TelemetryEvents  atomic.Uint64
	TelemetryDropped atomic.Uint64
	TelemetryErrors  atomic.Uint64

	// Latest reconciled audience
	People         atomic.Uint64
	Male           atomic.Uint64
	Female         atomic.Uint64
	Interested     atomic.Uint64
	UniqueVisitors atomic.Uint64

	// Controller state (0=IDLE, 1=AWAITING_ACK, 2=FAILED)
	ControllerState atomic.Uint64

	// Latency tracking
	DetectLatencyMs atomic.Uint64

	// Monitor client tracking
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64
	StreamClients atomic.Uint64

	plays *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Capture metrics
	m.gauge("kiosk_frames_captured_total", "Total frames pulled from the video source", &m.FramesCaptured)
	m.gauge("kiosk_capture_errors_total", "Total capture or detection errors", &m.CaptureErrors)
	m.gauge("kiosk_observation_samples_total", "Total ring buffer slots filled", &m.ObservationSamples)
	m.gauge("kiosk_cadence_ticks_total", "Total reconciliation ticks", &m.CadenceTicks)
	m.gauge("kiosk_faces_detected_total", "Total faces handed to the aggregator", &m.FacesDetected)

	// Protocol metrics
	m.gauge("kiosk_ad_requests_total", "Total play requests sent to the player", &m.AdRequests)
	m.gauge("kiosk_acks_ok_total", "Total successful playback acks", &m.AcksOK)
	m.gauge("kiosk_acks_failed_total", "Total failed playback acks", &m.AcksFailed)
	m.gauge("kiosk_catalog_fallbacks_total", "Total selections that fell back to the default bucket", &m.CatalogFallbacks)

	// Telemetry metrics
	m.gauge("kiosk_telemetry_events_total", "Total telemetry events emitted", &m.TelemetryEvents)
	m.gauge("kiosk_telemetry_dropped_total", "Total telemetry events dropped on a full queue", &m.TelemetryDropped)
	m.gauge("kiosk_telemetry_errors_total", "Total telemetry write errors", &m.TelemetryErrors)

	// Audience gauges
	m.gauge("kiosk_audience_people", "Reconciled headcount", &m.People)
	m.gauge("kiosk_audience_male", "Reconciled male count", &m.Male)
	m.gauge("kiosk_audience_female", "Reconciled female count", &m.Female)
	m.gauge("kiosk_audience_interested", "Reconciled interested count", &m.Interested)
	m.gauge("kiosk_unique_visitors", "Estimated unique visitors since start", &m.UniqueVisitors)

	m.gauge("kiosk_controller_state", "Playback channel state (0=idle, 1=awaiting ack, 2=failed)", &m.ControllerState)
	m.gauge("kiosk_detect_latency_ms", "Latest detection latency in milliseconds", &m.DetectLatencyMs)

	// Client metrics
	m.gauge("kiosk_webrtc_active_clients", "Number of active WebRTC clients", &m.ActiveClients)
	m.gauge("kiosk_webrtc_total_clients", "Total WebRTC clients connected", &m.TotalClients)
	m.gauge("kiosk_stream_clients", "Number of connected event stream clients", &m.StreamClients)

	m.plays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_ad_plays_total",
		Help: "Completed plays per ad and result",
	}, []string{"ad", "result"})
	m.registry.MustRegister(m.plays)
}

// RecordPlay counts one completed playback of ad
func (m *Metrics) RecordPlay(ad, result string) {
	m.plays.WithLabelValues(ad, result).Inc()
}

// UpdateDetectLatency stores the latest detection latency
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// Registry exposes the registry for extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
