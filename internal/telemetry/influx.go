package telemetry

import (
	"context"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// InfluxConfig addresses an InfluxDB 1.x server
type InfluxConfig struct {
	Addr     string
	Username string
	Password string
	Timeout  time.Duration
}

// Influx writes each measurement into the database of the same name
type Influx struct {
	c client.Client
}

// NewInflux connects and creates the Demographics and AdData databases
func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("influx client: %w", err)
	}

	for _, db := range []string{types.MeasurementDemographics, types.MeasurementAdData} {
		resp, err := c.Query(client.NewQuery(fmt.Sprintf("CREATE DATABASE %q", db), "", ""))
		if err == nil {
			err = resp.Error()
		}
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("create database %s: %w", db, err)
		}
	}
	return &Influx{c: c}, nil
}

func (i *Influx) Write(_ context.Context, e types.Event) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  e.Measurement,
		Precision: "s",
	})
	if err != nil {
		return err
	}
	pt, err := client.NewPoint(e.Measurement, e.Tags, e.Fields, e.Time)
	if err != nil {
		return fmt.Errorf("build point: %w", err)
	}
	bp.AddPoint(pt)
	return i.c.Write(bp)
}

func (i *Influx) Close() error {
	return i.c.Close()
}
