package telemetry

import (
	"context"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/metrics"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// Prometheus mirrors the latest measurements into the kiosk gauges
type Prometheus struct {
	m *metrics.Metrics
}

// NewPrometheus wraps m
func NewPrometheus(m *metrics.Metrics) *Prometheus {
	return &Prometheus{m: m}
}

func (p *Prometheus) Emit(_ context.Context, e types.Event) {
	switch e.Measurement {
	case types.MeasurementDemographics:
		p.m.People.Store(fieldUint(e.Fields, "Total people"))
		p.m.Male.Store(fieldUint(e.Fields, "Total male"))
		p.m.Female.Store(fieldUint(e.Fields, "Total female"))
		p.m.UniqueVisitors.Store(fieldUint(e.Fields, "Unique visitors"))
	case types.MeasurementAdData:
		p.m.Interested.Store(fieldUint(e.Fields, "peopleInterested"))
	}
}

func fieldUint(fields map[string]any, key string) uint64 {
	switch v := fields[key].(type) {
	case int:
		if v > 0 {
			return uint64(v)
		}
	case float64:
		if v > 0 {
			return uint64(v)
		}
	}
	return 0
}
