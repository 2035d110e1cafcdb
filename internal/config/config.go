// Package config holds the kiosk controller's runtime configuration: built-in
// defaults, an optional YAML file, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingInput is returned when neither a camera nor a video file is given
var ErrMissingInput = errors.New("missing input: use -i cam or -i <video file>")

// CameraInput selects the live camera instead of a file
const CameraInput = "cam"

// Player backends
const (
	BackendGst     = "gst"
	BackendCommand = "command"
)

// Models locates the detector networks
type Models struct {
	Face      string `yaml:"face"`
	AgeGender string `yaml:"age_gender"`
	HeadPose  string `yaml:"head_pose"`
	// Backend/Target select the OpenCV DNN backend ("default", "openvino", "cuda")
	Backend string `yaml:"backend"`
	Target  string `yaml:"target"`
}

// Influx configures the time series sink
type Influx struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Kafka configures the event bus sink
type Kafka struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`
	DemographicsTopic string   `yaml:"demographics_topic"`
	AdDataTopic       string   `yaml:"addata_topic"`
}

// Config defines the runtime configuration for the kiosk controller.
type Config struct {
	ConfigFile string `yaml:"-"`

	Input       string `yaml:"input"`
	CameraIndex int    `yaml:"camera_index"`

	CatalogPath  string `yaml:"catalog"`
	AdsDir       string `yaml:"ads_dir"`
	VerifyAssets bool   `yaml:"verify_assets"`

	PlayerBin     string `yaml:"player_bin"`
	PlayerBackend string `yaml:"player_backend"`
	PlayerCommand string `yaml:"player_command"`

	Models Models `yaml:"models"`

	SamplePeriod int           `yaml:"sample_period"`
	WindowSize   int           `yaml:"window_size"`
	Cadence      int           `yaml:"cadence"`
	AckTimeout   time.Duration `yaml:"ack_timeout"`

	Influx       Influx `yaml:"influx"`
	Kafka        Kafka  `yaml:"kafka"`
	JournalDir   string `yaml:"journal_dir"`
	TelemetryTag string `yaml:"site"`

	MetricsAddr  string   `yaml:"metrics_addr"`
	MonitorAddr  string   `yaml:"monitor_addr"`
	MaxPeers     int      `yaml:"max_peers"`
	STUNServers  []string `yaml:"stun_servers"`
	PreviewWidth int      `yaml:"preview_width"`

	LogLevel string `yaml:"log_level"`
	LogColor bool   `yaml:"log_color"`
}

// DefaultConfig returns a config aligned with the kiosk hardware defaults.
func DefaultConfig() Config {
	return Config{
		CatalogPath:   "AdList.json",
		AdsDir:        "ads",
		PlayerBackend: BackendGst,
		PlayerCommand: "gst-play-1.0 --no-interactive {path}",
		Models: Models{
			Face:      "models/face_detection_yunet_2023mar.onnx",
			AgeGender: "models/age-gender-recognition-retail-0013.xml",
			HeadPose:  "models/head-pose-estimation-adas-0001.xml",
			Backend:   "default",
			Target:    "cpu",
		},
		SamplePeriod: 5,
		WindowSize:   5,
		Cadence:      30,
		Influx: Influx{
			Addr: "http://localhost:8086",
		},
		Kafka: Kafka{
			Brokers:           []string{"localhost:9092"},
			DemographicsTopic: "kiosk.demographics",
			AdDataTopic:       "kiosk.addata",
		},
		MetricsAddr:  ":9090",
		MonitorAddr:  ":8080",
		MaxPeers:     10,
		STUNServers:  []string{"stun:stun.l.google.com:19302"},
		PreviewWidth: 320,
		LogLevel:     "info",
		LogColor:     true,
	}
}

// Load overlays the YAML file at path onto base
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return cfg, nil
}

// listFlag is a comma-separated string list flag
type listFlag struct{ v *[]string }

func (l listFlag) String() string {
	if l.v == nil {
		return ""
	}
	return strings.Join(*l.v, ",")
}

func (l listFlag) Set(s string) error {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*l.v = out
	return nil
}

// bind registers every flag onto fs with cfg's current values as defaults
func bind(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML configuration file")
	fs.StringVar(&cfg.Input, "i", cfg.Input, "Input: \"cam\" for the camera or a video file path")
	fs.IntVar(&cfg.CameraIndex, "camera", cfg.CameraIndex, "Camera device index")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Ad catalog (JSON)")
	fs.StringVar(&cfg.AdsDir, "ads", cfg.AdsDir, "Directory holding the ad files")
	fs.BoolVar(&cfg.VerifyAssets, "verify-assets", cfg.VerifyAssets, "Check that every catalog ad exists at startup")
	fs.StringVar(&cfg.PlayerBin, "player-bin", cfg.PlayerBin, "Player executable (default: adplayer next to this binary)")
	fs.StringVar(&cfg.PlayerBackend, "player-backend", cfg.PlayerBackend, "Player backend (gst, command)")
	fs.StringVar(&cfg.PlayerCommand, "player-command", cfg.PlayerCommand, "Command template for the command backend ({path} is replaced)")
	fs.StringVar(&cfg.Models.Face, "face-model", cfg.Models.Face, "Face detection model")
	fs.StringVar(&cfg.Models.AgeGender, "age-gender-model", cfg.Models.AgeGender, "Age/gender model")
	fs.StringVar(&cfg.Models.HeadPose, "head-pose-model", cfg.Models.HeadPose, "Head pose model")
	fs.IntVar(&cfg.SamplePeriod, "sample-period", cfg.SamplePeriod, "Frames between observation samples")
	fs.IntVar(&cfg.WindowSize, "window", cfg.WindowSize, "Observation samples averaged per reconciliation")
	fs.IntVar(&cfg.Cadence, "cadence", cfg.Cadence, "Frames between reconciliations")
	fs.DurationVar(&cfg.AckTimeout, "ack-timeout", cfg.AckTimeout, "Fail when a playback ack is overdue (0 waits forever)")
	fs.BoolVar(&cfg.Influx.Enabled, "influx", cfg.Influx.Enabled, "Write telemetry to InfluxDB")
	fs.StringVar(&cfg.Influx.Addr, "influx-addr", cfg.Influx.Addr, "InfluxDB address")
	fs.BoolVar(&cfg.Kafka.Enabled, "kafka", cfg.Kafka.Enabled, "Publish telemetry to Kafka")
	fs.Var(listFlag{&cfg.Kafka.Brokers}, "kafka-brokers", "Kafka brokers (comma-separated)")
	fs.StringVar(&cfg.JournalDir, "journal", cfg.JournalDir, "Directory for the local telemetry journal (empty disables)")
	fs.StringVar(&cfg.TelemetryTag, "site", cfg.TelemetryTag, "Site tag attached to telemetry")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address (empty disables)")
	fs.StringVar(&cfg.MonitorAddr, "http", cfg.MonitorAddr, "Monitor HTTP address (empty disables)")
	fs.IntVar(&cfg.MaxPeers, "max-clients", cfg.MaxPeers, "Maximum WebRTC clients")
	fs.Var(listFlag{&cfg.STUNServers}, "stun", "STUN server URLs (comma-separated)")
	fs.IntVar(&cfg.PreviewWidth, "preview-width", cfg.PreviewWidth, "Preview snapshot width in pixels")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
}

// Parse builds the configuration from args: defaults, then the -config
// file, then the remaining flags, which always win over the file.
func Parse(name string, args []string) (Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	bind(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ConfigFile == "" {
		return cfg, nil
	}

	fileCfg, err := Load(cfg.ConfigFile, DefaultConfig())
	if err != nil {
		return cfg, err
	}
	fs = flag.NewFlagSet(name, flag.ContinueOnError)
	bind(fs, &fileCfg)
	if err := fs.Parse(args); err != nil {
		return fileCfg, err
	}
	return fileCfg, nil
}

// Validate rejects configurations the control loop cannot start with
func (c Config) Validate() error {
	var errs []error
	if c.Input == "" {
		errs = append(errs, ErrMissingInput)
	}
	if c.CatalogPath == "" {
		errs = append(errs, errors.New("catalog path is required"))
	}
	if c.SamplePeriod <= 0 {
		errs = append(errs, fmt.Errorf("sample period must be positive, got %d", c.SamplePeriod))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("window size must be positive, got %d", c.WindowSize))
	}
	if c.Cadence <= 0 {
		errs = append(errs, fmt.Errorf("cadence must be positive, got %d", c.Cadence))
	}
	if c.AckTimeout < 0 {
		errs = append(errs, fmt.Errorf("ack timeout must not be negative, got %s", c.AckTimeout))
	}
	switch c.PlayerBackend {
	case BackendGst:
	case BackendCommand:
		if !strings.Contains(c.PlayerCommand, "{path}") {
			errs = append(errs, errors.New("player command must contain {path}"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown player backend %q", c.PlayerBackend))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka enabled without brokers"))
	}
	if c.PreviewWidth < 0 {
		errs = append(errs, fmt.Errorf("preview width must not be negative, got %d", c.PreviewWidth))
	}
	return errors.Join(errs...)
}

// UseCamera reports whether the input is the live camera
func (c Config) UseCamera() bool {
	return c.Input == CameraInput
}
