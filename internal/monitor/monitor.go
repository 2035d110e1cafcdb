// Package monitor serves the kiosk dashboard: the latest demographics and
// ad completion, a live event stream and a camera preview. It is a
// telemetry sink and a preview sink for the control loop.
package monitor

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/metrics"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/playback"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// PlaybackState reports the controller state machine
type PlaybackState interface {
	State() playback.State
}

// Relay receives every event after the monitor has recorded it
type Relay interface {
	Broadcast(e types.Event)
}

// Monitor holds the dashboard state.
type Monitor struct {
	cfg       Config
	startTime time.Time
	now       func() time.Time

	events   *EventBroadcaster
	preview  *Preview
	playback PlaybackState
	relay    Relay

	mu                 sync.Mutex
	eventCount         uint64
	latestDemographics *types.Event
	latestAd           *types.Event
	history            []types.Event
}

// NewMonitor creates a Monitor. playback and m may be nil.
func NewMonitor(cfg Config, pb PlaybackState, m *metrics.Metrics) *Monitor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return &Monitor{
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
		events:    NewEventBroadcaster(8, m),
		preview:   NewPreview(cfg.PreviewWidth),
		playback:  pb,
	}
}

// SetRelay forwards every event to r (the WebRTC data channels)
func (m *Monitor) SetRelay(r Relay) {
	m.mu.Lock()
	m.relay = r
	m.mu.Unlock()
}

// Emit records the event and broadcasts it to stream clients
func (m *Monitor) Emit(_ context.Context, e types.Event) {
	m.mu.Lock()
	m.eventCount++
	ev := e
	switch e.Measurement {
	case types.MeasurementDemographics:
		m.latestDemographics = &ev
	case types.MeasurementAdData:
		m.latestAd = &ev
	}
	m.history = append(m.history, e)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
	relay := m.relay
	m.mu.Unlock()

	serialized, err := Serialize(e)
	if err != nil {
		logger.Warn("Monitor", "Dropping %s event: %v", e.Measurement, err)
		return
	}
	m.events.Broadcast(serialized)
	if relay != nil {
		relay.Broadcast(e)
	}
}

// UpdatePreview stores a downscaled copy of the frame
func (m *Monitor) UpdatePreview(img image.Image) {
	if img == nil {
		return
	}
	if err := m.preview.Update(img, m.now()); err != nil {
		logger.Debug("Monitor", "Preview encode failed: %v", err)
	}
}

// Snapshot returns the current dashboard state.
func (m *Monitor) Snapshot() StatusPayload {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	_, _, hasPreview := m.preview.JPEG()
	payload := StatusPayload{
		Monitor: MonitorStats{
			UptimeSeconds: now.Sub(m.startTime).Seconds(),
			EventsSeen:    m.eventCount,
			StreamClients: m.events.ClientCount(),
			HasPreview:    hasPreview,
		},
		PlaybackState: "UNKNOWN",
		History:       make([]types.Event, len(m.history)),
		Timestamp:     float64(now.Unix()),
	}
	copy(payload.History, m.history)
	if m.latestDemographics != nil {
		d := *m.latestDemographics
		payload.LatestDemographics = &d
	}
	if m.latestAd != nil {
		a := *m.latestAd
		payload.LatestAd = &a
	}
	if m.playback != nil {
		payload.PlaybackState = m.playback.State().String()
	}
	return payload
}

// Events returns the SSE broadcaster
func (m *Monitor) Events() *EventBroadcaster {
	return m.events
}

// Preview returns the preview store
func (m *Monitor) Preview() *Preview {
	return m.preview
}

// Close disconnects stream clients
func (m *Monitor) Close() {
	m.events.Close()
}
