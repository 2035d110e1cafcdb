package monitor

import (
	"time"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// MonitorStats mirrors the process-level counters shown on the dashboard.
type MonitorStats struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	EventsSeen    uint64  `json:"events_seen"`
	StreamClients int     `json:"stream_clients"`
	HasPreview    bool    `json:"has_preview"`
}

// StatusPayload is the body of GET /api/status.
type StatusPayload struct {
	Monitor            MonitorStats   `json:"monitor"`
	PlaybackState      string         `json:"playback_state"`
	LatestDemographics *types.Event   `json:"latest_demographics"`
	LatestAd           *types.Event   `json:"latest_ad"`
	History            []types.Event  `json:"history"`
	Journal            *JournalStatus `json:"journal,omitempty"`
	Timestamp          float64        `json:"timestamp"`
}

// JournalStatus is the journal section of the status payload.
type JournalStatus struct {
	Recording  bool      `json:"recording"`
	Filename   string    `json:"filename"`
	EventCount uint64    `json:"event_count"`
	Dropped    uint64    `json:"dropped"`
	StartTime  time.Time `json:"start_time"`
}
