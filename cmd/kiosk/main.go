package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/adselect"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/audience"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/catalog"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/config"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/control"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/journal"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/metrics"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/monitor"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/playback"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/telemetry"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/vision"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/visitors"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/webrtc"
)

// Telemetry queue depth per network backend
const telemetryQueue = 64

// Kiosk is the controller process: capture, audience tracking, ad selection
// and the controller side of the player pipes.
type Kiosk struct {
	cfg     config.Config
	wg      sync.WaitGroup
	metrics *metrics.Metrics

	detector   *vision.Detector
	source     *vision.Source
	player     *playback.Process
	controller *playback.Controller

	journal *journal.Journal
	writers []*telemetry.Async
	monitor *monitor.Monitor
	webrtc  *webrtc.Server

	loop *control.Loop
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse("kiosk", args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kiosk: %v\n", err)
		return 1
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kiosk: invalid log level: %v\n", err)
		return 1
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	if err := cfg.Validate(); err != nil {
		logger.Error("Main", "Invalid configuration: %v", err)
		return 1
	}

	logger.Info("Main", "Signage kiosk starting...")
	logger.Info("Main", "Log level: %s", level)

	k, err := NewKiosk(cfg)
	if err != nil {
		logger.Error("Main", "Startup failed: %v", err)
		return 1
	}
	defer k.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k.Start(ctx)
	if err := k.loop.Run(ctx); err != nil {
		return 1
	}
	logger.Info("Main", "Kiosk stopped")
	return 0
}

// NewKiosk loads the catalog and models, starts the player process and
// assembles the telemetry sinks. Everything started so far is released on
// error.
func NewKiosk(cfg config.Config) (*Kiosk, error) {
	k := &Kiosk{cfg: cfg, metrics: metrics.New()}
	if err := k.init(); err != nil {
		k.Shutdown()
		return nil, err
	}
	return k, nil
}

func (k *Kiosk) init() error {
	cfg := k.cfg
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	logger.Info("Main", "Loaded %d catalog entries from %s", cat.Len(), cfg.CatalogPath)
	if cfg.VerifyAssets {
		if err := cat.VerifyAssets(cfg.AdsDir); err != nil {
			return err
		}
	}

	window, err := audience.NewWindow(cfg.SamplePeriod, cfg.WindowSize)
	if err != nil {
		return err
	}

	if err := k.openSource(); err != nil {
		return err
	}
	if err := k.startPlayer(); err != nil {
		return err
	}

	sink, err := k.buildSinks()
	if err != nil {
		return err
	}

	var preview control.PreviewSink
	if k.monitor != nil {
		preview = k.monitor
	}

	k.loop, err = control.New(control.Config{
		Cadence: cfg.Cadence,
		AdsDir:  cfg.AdsDir,
		Tags:    k.tags(),
	}, control.Deps{
		Source:    k.source,
		Window:    window,
		Estimator: visitors.New(),
		Engine:    adselect.New(cat),
		Channel:   k.controller,
		Player:    k.player,
		Sink:      sink,
		Metrics:   k.metrics,
		Preview:   preview,
	})
	return err
}

func (k *Kiosk) openSource() error {
	m := k.cfg.Models
	d, err := vision.NewDetector(vision.DetectorConfig{
		FaceModel:      m.Face,
		AgeGenderModel: m.AgeGender,
		HeadPoseModel:  m.HeadPose,
		Backend:        m.Backend,
		Target:         m.Target,
	})
	if err != nil {
		return err
	}
	k.detector = d

	if k.cfg.UseCamera() {
		k.source, err = vision.OpenCamera(k.cfg.CameraIndex, d, k.metrics)
	} else {
		k.source, err = vision.OpenFile(k.cfg.Input, d, k.metrics)
	}
	return err
}

// playerBin defaults to the adplayer binary installed next to this one
func (k *Kiosk) playerBin() string {
	if k.cfg.PlayerBin != "" {
		return k.cfg.PlayerBin
	}
	exe, err := os.Executable()
	if err != nil {
		return "adplayer"
	}
	return filepath.Join(filepath.Dir(exe), "adplayer")
}

func (k *Kiosk) startPlayer() error {
	bin := k.playerBin()
	p, err := playback.StartProcess(bin,
		"-backend", k.cfg.PlayerBackend,
		"-command", k.cfg.PlayerCommand,
		"-log-level", k.cfg.LogLevel,
		"-log-color="+strconv.FormatBool(k.cfg.LogColor),
	)
	if err != nil {
		return err
	}
	k.player = p
	k.controller = playback.NewController(p.Requests(), p.Acks(), playback.ControllerOptions{
		AckTimeout: k.cfg.AckTimeout,
	})
	logger.Info("Main", "Player %s started (pid %d)", bin, p.Pid())
	return nil
}

// buildSinks fans telemetry out to every enabled backend
func (k *Kiosk) buildSinks() (telemetry.Sink, error) {
	sinks := telemetry.Multi{telemetry.NewPrometheus(k.metrics)}

	if k.cfg.JournalDir != "" {
		k.journal = journal.New(k.cfg.JournalDir)
		if err := k.journal.Start(); err != nil {
			return nil, err
		}
		sinks = append(sinks, k.journal)
	}

	if k.cfg.Influx.Enabled {
		influx, err := telemetry.NewInflux(telemetry.InfluxConfig{
			Addr:     k.cfg.Influx.Addr,
			Username: k.cfg.Influx.Username,
			Password: k.cfg.Influx.Password,
		})
		if err != nil {
			// The kiosk keeps advertising without its time series
			logger.Warn("Main", "InfluxDB disabled: %v", err)
		} else {
			a := telemetry.NewAsync("influx", influx, telemetryQueue, k.metrics)
			k.writers = append(k.writers, a)
			sinks = append(sinks, a)
		}
	}

	if k.cfg.Kafka.Enabled {
		kafka, err := telemetry.NewKafka(telemetry.KafkaConfig{
			Brokers:           k.cfg.Kafka.Brokers,
			DemographicsTopic: k.cfg.Kafka.DemographicsTopic,
			AdDataTopic:       k.cfg.Kafka.AdDataTopic,
		})
		if err != nil {
			return nil, err
		}
		a := telemetry.NewAsync("kafka", kafka, telemetryQueue, k.metrics)
		k.writers = append(k.writers, a)
		sinks = append(sinks, a)
	}

	if k.cfg.MonitorAddr != "" {
		k.monitor = monitor.NewMonitor(k.monitorConfig(), k.controller, k.metrics)
		k.webrtc = webrtc.NewServer(k.cfg.STUNServers, k.cfg.MaxPeers, k.metrics)
		k.monitor.SetRelay(k.webrtc)
		sinks = append(sinks, k.monitor)
	}
	return sinks, nil
}

func (k *Kiosk) monitorConfig() monitor.Config {
	mc := monitor.DefaultConfig()
	mc.Addr = k.cfg.MonitorAddr
	mc.PreviewWidth = k.cfg.PreviewWidth
	return mc
}

// tags identify this run in every backend
func (k *Kiosk) tags() map[string]string {
	tags := map[string]string{"run": uuid.NewString()}
	if k.cfg.TelemetryTag != "" {
		tags["site"] = k.cfg.TelemetryTag
	}
	return tags
}

// Start launches the metrics and monitor servers and the player watchdog
func (k *Kiosk) Start(ctx context.Context) {
	if k.cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Metrics server listening on %s", k.cfg.MetricsAddr)
			if err := k.metrics.StartServer(k.cfg.MetricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	if k.monitor != nil {
		srv := monitor.NewServer(k.monitorConfig(), k.monitor, monitor.Options{
			Journal: k.journal,
			WebRTC:  k.webrtc,
		})
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.Error("Main", "Monitor server error: %v", err)
			}
		}()
	}

	go func() {
		select {
		case <-k.player.Exited():
			logger.Warn("Main", "Player process exited")
		case <-ctx.Done():
		}
	}()
}

// Shutdown releases everything NewKiosk acquired. It tolerates a partially
// constructed kiosk.
func (k *Kiosk) Shutdown() {
	if k.controller != nil {
		k.controller.Close()
	}
	if k.player != nil {
		if err := k.player.Kill(); err != nil {
			logger.Warn("Main", "Stopping player: %v", err)
		}
	}
	if k.source != nil {
		_ = k.source.Close()
	}
	if k.detector != nil {
		_ = k.detector.Close()
	}

	// Drain queued telemetry before the process exits
	for _, w := range k.writers {
		if err := w.Close(); err != nil {
			logger.Warn("Main", "Closing telemetry writer: %v", err)
		}
	}
	if k.journal != nil {
		if err := k.journal.Close(); err != nil {
			logger.Warn("Main", "Closing journal: %v", err)
		}
	}
	if k.webrtc != nil {
		_ = k.webrtc.Close()
	}
	if k.monitor != nil {
		k.monitor.Close()
	}
	k.wg.Wait()
}
