// Command adplayer is the playback half of the kiosk. It reads ad paths
// from descriptor 3, plays each one to completion and acks on descriptor 4.
// The kiosk controller starts it; it is not meant to be run by hand.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/config"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/playback"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/player"
)

func main() {
	defaults := config.DefaultConfig()

	var (
		backend   string
		command   string
		videoSink string
		logLevel  string
		logColor  bool
	)
	flag.StringVar(&backend, "backend", defaults.PlayerBackend, "Playback backend (gst, command)")
	flag.StringVar(&command, "command", defaults.PlayerCommand, "Command template for the command backend ({path} is replaced)")
	flag.StringVar(&videoSink, "video-sink", player.DefaultVideoSink, "GStreamer video sink element")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	requests, acks, err := playback.InheritedPipes()
	if err != nil {
		logger.Error("Main", "%v", err)
		os.Exit(1)
	}
	defer requests.Close()
	defer acks.Close()

	var backendPlayer playback.Player
	switch backend {
	case config.BackendGst:
		backendPlayer = player.NewGst(videoSink)
	case config.BackendCommand:
		cmd, err := player.NewCommand(command)
		if err != nil {
			logger.Error("Main", "Invalid player command: %v", err)
			os.Exit(1)
		}
		backendPlayer = cmd
	default:
		logger.Error("Main", "Unknown backend %q", backend)
		os.Exit(1)
	}
	logger.Info("Main", "Ad player ready (backend %s, pid %d)", backend, os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := playback.NewServer(player.WithChecks(backendPlayer))
	err = srv.Serve(ctx, requests, acks)
	played, failed := srv.Stats()
	logger.Info("Main", "Ad player exiting (played %d, failed %d)", played, failed)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Main", "%v", err)
		stop()
		requests.Close()
		acks.Close()
		os.Exit(1)
	}
}
