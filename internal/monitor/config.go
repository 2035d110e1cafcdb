package monitor

import "time"

// Config defines the runtime configuration for the monitor server.
type Config struct {
	Addr         string
	PreviewWidth int
	// HistorySize bounds the recent-event list served by /api/status
	HistorySize int
	KeepAlive   time.Duration
}

// DefaultConfig returns the kiosk defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		PreviewWidth: 320,
		HistorySize:  20,
		KeepAlive:    30 * time.Second,
	}
}
