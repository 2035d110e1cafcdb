// Package control runs the kiosk's single-threaded control loop: one
// iteration per captured frame, reconciliation on a fixed cadence, and the
// controller side of the playback protocol.
package control

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"maps"
	"path/filepath"
	"time"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/adselect"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/audience"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/metrics"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/playback"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/telemetry"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/visitors"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// DefaultCadence is the number of iterations between reconciliations
const DefaultCadence = 30

// ErrCaptureExhausted ends the loop when the video source has no more frames
var ErrCaptureExhausted = errors.New("capture exhausted")

// Source yields one observation per captured frame and io.EOF when the
// video source is exhausted. Next may block.
type Source interface {
	Next(ctx context.Context) (audience.Observation, error)
}

// Channel is the controller side of the playback protocol
type Channel interface {
	State() playback.State
	Send(path string) error
	TryReceive() (playback.Status, bool, error)
}

// Terminator force-stops the player process
type Terminator interface {
	Kill() error
}

// PreviewSink receives a frame on cadence ticks
type PreviewSink interface {
	UpdatePreview(img image.Image)
}

// Config holds the loop parameters
type Config struct {
	Cadence int
	AdsDir  string
	// Tags are attached to every telemetry event
	Tags map[string]string
}

// Deps are the collaborators the loop drives
type Deps struct {
	Source    Source
	Window    *audience.Window
	Estimator *visitors.Estimator
	Engine    *adselect.Engine
	Channel   Channel
	Player    Terminator
	Sink      telemetry.Sink
	Metrics   *metrics.Metrics
	Preview   PreviewSink // optional
}

// Loop owns the audience state and drives the playback channel. It is not
// safe for concurrent use.
type Loop struct {
	cfg Config
	Deps

	iteration  uint64
	started    bool // first request sent
	retry      bool // last ack was a failure
	currentAd  string
	snapshot   audience.Snapshot
	lastUnique uint

	now func() time.Time
	log logger.Scoped
}

// New validates the dependencies and returns a loop at iteration zero
func New(cfg Config, deps Deps) (*Loop, error) {
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultCadence
	}
	switch {
	case deps.Source == nil:
		return nil, errors.New("control: nil source")
	case deps.Window == nil:
		return nil, errors.New("control: nil window")
	case deps.Estimator == nil:
		return nil, errors.New("control: nil estimator")
	case deps.Engine == nil:
		return nil, errors.New("control: nil engine")
	case deps.Channel == nil:
		return nil, errors.New("control: nil playback channel")
	case deps.Player == nil:
		return nil, errors.New("control: nil player")
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.Discard{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Loop{
		cfg:  cfg,
		Deps: deps,
		now:  time.Now,
		log:  logger.For("Control"),
	}, nil
}

// Iteration returns the number of frames processed so far
func (l *Loop) Iteration() uint64 { return l.iteration }

// CurrentAd returns the ad most recently requested
func (l *Loop) CurrentAd() string { return l.currentAd }

// Snapshot returns the latest reconciled audience
func (l *Loop) Snapshot() audience.Snapshot { return l.snapshot }

// Run iterates until the source is exhausted, the context ends or a fatal
// error occurs. The player is killed in every case. Exhaustion and
// cancellation return nil.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("Control loop started (cadence %d)", l.cfg.Cadence)
	for {
		err := l.Step(ctx)
		if err == nil {
			continue
		}

		if kerr := l.Player.Kill(); kerr != nil {
			l.log.Warn("Killing player: %v", kerr)
		}
		switch {
		case errors.Is(err, ErrCaptureExhausted):
			l.log.Info("Video source exhausted after %d frames, player terminated", l.iteration)
			return nil
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			l.log.Info("Stopping: %v", err)
			return nil
		default:
			l.log.Error("Fatal: %v", err)
			return err
		}
	}
}

// Step runs one iteration: pull a frame, record it, reconcile on cadence
// ticks and poll the ack channel.
func (l *Loop) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obs, err := l.Source.Next(ctx)
	if errors.Is(err, io.EOF) {
		return ErrCaptureExhausted
	}
	if err != nil {
		l.Metrics.CaptureErrors.Add(1)
		return fmt.Errorf("capture: %w", err)
	}
	l.Metrics.FramesCaptured.Add(1)
	l.Metrics.FacesDetected.Add(uint64(len(obs.Faces)))

	tick := l.iteration
	l.iteration++
	if l.Window.Record(tick, obs.Faces) {
		l.Metrics.ObservationSamples.Add(1)
	}

	if l.iteration%uint64(l.cfg.Cadence) == 0 {
		if err := l.cadenceTick(ctx, obs); err != nil {
			return err
		}
	}

	err = l.pollAck(ctx)
	l.Metrics.ControllerState.Store(uint64(l.Channel.State()))
	return err
}

func (l *Loop) cadenceTick(ctx context.Context, obs audience.Observation) error {
	l.Metrics.CadenceTicks.Add(1)

	l.snapshot = l.Window.Reconcile()
	unique := l.Estimator.Update(uint(l.snapshot.People))
	if unique != l.lastUnique {
		l.log.Info("Unique visitors: %d", unique)
		l.lastUnique = unique
	}

	l.Sink.Emit(ctx, l.event(types.DemographicsEvent(types.Demographics{
		People:         int(l.snapshot.People),
		Male:           int(l.snapshot.Male),
		Female:         int(l.snapshot.Female),
		Interested:     int(l.snapshot.Interested),
		UniqueVisitors: int(unique),
		Timestamp:      l.now(),
	})))

	if l.Preview != nil && obs.Image != nil {
		if img, err := obs.Image(); err == nil {
			l.Preview.UpdatePreview(img)
		} else {
			l.log.Debug("Preview frame unavailable: %v", err)
		}
	}

	if l.Channel.State() != playback.StateIdle {
		return nil
	}
	if l.started && !l.retry {
		return nil
	}
	_, err := l.request()
	return err
}

// pollAck consumes at most one ack without blocking
func (l *Loop) pollAck(ctx context.Context) error {
	status, ok, err := l.Channel.TryReceive()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	finished := l.currentAd
	if status != playback.StatusOK {
		l.Metrics.AcksFailed.Add(1)
		l.Metrics.RecordPlay(finished, "failed")
		l.log.Warn("Playback of %s failed; retrying on the next cadence tick", finished)
		l.retry = true
		return nil
	}
	l.Metrics.AcksOK.Add(1)
	l.Metrics.RecordPlay(finished, "ok")

	l.snapshot = l.Window.Reconcile()
	next, err := l.choose()
	if err != nil {
		return err
	}

	l.log.Info("People interested in %s: %d", finished, int(l.snapshot.Interested))
	l.Sink.Emit(ctx, l.event(types.AdPlaybackEvent(types.AdPlayback{
		PreviousAd:          finished,
		CurrentAd:           next.Ad,
		PeopleInterested:    int(l.snapshot.Interested),
		PeopleNotInterested: int(l.snapshot.NotInterested()),
		Timestamp:           l.now(),
	})))

	return l.send(next)
}

// request selects from the current snapshot and sends
func (l *Loop) request() (adselect.Choice, error) {
	c, err := l.choose()
	if err != nil {
		return c, err
	}
	return c, l.send(c)
}

func (l *Loop) choose() (adselect.Choice, error) {
	c, err := l.Engine.Choose(l.snapshot, l.Window)
	if err != nil {
		return c, fmt.Errorf("select ad: %w", err)
	}
	if c.Fallback {
		l.Metrics.CatalogFallbacks.Add(1)
	}
	return c, nil
}

func (l *Loop) send(c adselect.Choice) error {
	path := filepath.Join(l.cfg.AdsDir, c.Ad)
	if err := l.Channel.Send(path); err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	l.started = true
	l.retry = false
	l.currentAd = c.Ad
	l.Metrics.AdRequests.Add(1)
	l.log.Info("Audience %s (%d people), playing %s", c.Bucket, int(l.snapshot.People), c.Ad)
	return nil
}

func (l *Loop) event(e types.Event) types.Event {
	if len(l.cfg.Tags) > 0 {
		e.Tags = maps.Clone(l.cfg.Tags)
	}
	return e
}
