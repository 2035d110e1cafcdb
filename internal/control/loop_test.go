package control

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/adselect"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/audience"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/catalog"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/metrics"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/playback"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/telemetry"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/visitors"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

const adsDir = "/opt/kiosk/ads"

// frameSource replays faces for a fixed number of frames, then reports EOF
type frameSource struct {
	faces  func(i int) []audience.Face
	frames int // negative means endless
	delay  time.Duration
	i      int
	err    error
}

func (s *frameSource) Next(ctx context.Context) (audience.Observation, error) {
	if s.err != nil {
		return audience.Observation{}, s.err
	}
	if s.frames >= 0 && s.i >= s.frames {
		return audience.Observation{}, io.EOF
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	var faces []audience.Face
	if s.faces != nil {
		faces = s.faces(s.i)
	}
	s.i++
	return audience.Observation{Faces: faces}, nil
}

// fakeChannel is a scripted playback channel
type fakeChannel struct {
	state      playback.State
	sent       []string
	acks       []playback.Status
	sendErr    error
	recvErr    error
	violations int
}

func (c *fakeChannel) State() playback.State { return c.state }

func (c *fakeChannel) Send(path string) error {
	if c.state == playback.StateAwaitingAck {
		c.violations++
		return playback.ErrAwaitingAck
	}
	if c.sendErr != nil {
		c.state = playback.StateFailed
		return c.sendErr
	}
	c.sent = append(c.sent, path)
	c.state = playback.StateAwaitingAck
	return nil
}

func (c *fakeChannel) TryReceive() (playback.Status, bool, error) {
	if c.recvErr != nil {
		c.state = playback.StateFailed
		return 0, false, c.recvErr
	}
	if c.state != playback.StateAwaitingAck || len(c.acks) == 0 {
		return 0, false, nil
	}
	st := c.acks[0]
	c.acks = c.acks[1:]
	c.state = playback.StateIdle
	return st, true, nil
}

type fakePlayer struct {
	mu    sync.Mutex
	kills int
}

func (p *fakePlayer) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills++
	return nil
}

// eventLog collects emitted events
type eventLog struct {
	mu     sync.Mutex
	events []types.Event
}

func (l *eventLog) Emit(_ context.Context, e types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(measurement string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Measurement == measurement {
			n++
		}
	}
	return n
}

func (l *eventLog) last(measurement string) types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Measurement == measurement {
			return l.events[i]
		}
	}
	return types.Event{}
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Entry{
		{Bucket: types.DefaultBucket, Ads: []string{"default1.h265", "default2.h265"}},
		{Bucket: types.Bucket{Gender: types.Female, AgeGroup: types.Adult}, Ads: []string{"a.h265", "b.h265"}},
	})
}

type harness struct {
	loop    *Loop
	src     *frameSource
	ch      *fakeChannel
	player  *fakePlayer
	events  *eventLog
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, cat *catalog.Catalog, src *frameSource) *harness {
	t.Helper()
	w, err := audience.NewWindow(audience.DefaultSamplePeriod, audience.DefaultWindowSize)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		src:     src,
		ch:      &fakeChannel{},
		player:  &fakePlayer{},
		events:  &eventLog{},
		metrics: metrics.New(),
	}
	h.loop, err = New(Config{Cadence: DefaultCadence, AdsDir: adsDir, Tags: map[string]string{"run": "test"}}, Deps{
		Source:    src,
		Window:    w,
		Estimator: visitors.New(),
		Engine:    adselect.New(cat),
		Channel:   h.ch,
		Player:    h.player,
		Sink:      h.events,
		Metrics:   h.metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) steps(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := h.loop.Step(context.Background()); err != nil {
			t.Fatalf("step %d: %v", h.loop.Iteration(), err)
		}
	}
}

func females(age int) func(int) []audience.Face {
	return func(int) []audience.Face {
		return []audience.Face{
			{MaleProbability: 0.1, Age: age},
			{MaleProbability: 0.2, Age: age, GazeYawDegrees: 45},
		}
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}

func TestStep_FirstRequestOnFirstCadenceTick(t *testing.T) {
	h := newHarness(t, testCatalog(), &frameSource{frames: -1})

	h.steps(t, DefaultCadence-1)
	if len(h.ch.sent) != 0 || h.events.count(types.MeasurementDemographics) != 0 {
		t.Fatalf("activity before first cadence tick: sent %v", h.ch.sent)
	}

	h.steps(t, 1)
	want := filepath.Join(adsDir, "default1.h265")
	if len(h.ch.sent) != 1 || h.ch.sent[0] != want {
		t.Fatalf("sent = %v, want [%s]", h.ch.sent, want)
	}
	if h.events.count(types.MeasurementDemographics) != 1 {
		t.Errorf("demographics events = %d, want 1", h.events.count(types.MeasurementDemographics))
	}
	if got := h.events.last(types.MeasurementDemographics).Tags["run"]; got != "test" {
		t.Errorf("run tag = %q", got)
	}
}

func TestStep_DominantBucketDrivesSelection(t *testing.T) {
	h := newHarness(t, testCatalog(), &frameSource{frames: -1, faces: females(35)})
	h.steps(t, DefaultCadence)

	if want := filepath.Join(adsDir, "a.h265"); len(h.ch.sent) != 1 || h.ch.sent[0] != want {
		t.Fatalf("sent = %v, want [%s]", h.ch.sent, want)
	}
	snap := h.loop.Snapshot()
	if snap.People != 2 || snap.Female != 2 || snap.Interested != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	d := h.events.last(types.MeasurementDemographics)
	if d.Fields["Total people"] != 2 || d.Fields["Unique visitors"] != 2 {
		t.Errorf("demographics fields = %v", d.Fields)
	}
}

func TestStep_AckTriggersOneAdDataAndNextRequest(t *testing.T) {
	h := newHarness(t, testCatalog(), &frameSource{frames: -1, faces: females(35)})
	h.steps(t, DefaultCadence)

	h.ch.acks = append(h.ch.acks, playback.StatusOK)
	h.steps(t, 1)

	if n := h.events.count(types.MeasurementAdData); n != 1 {
		t.Fatalf("AdData events = %d, want 1", n)
	}
	ad := h.events.last(types.MeasurementAdData)
	if ad.Fields["previousAd"] != "a.h265" || ad.Fields["currentAd"] != "b.h265" {
		t.Errorf("AdData = %v", ad.Fields)
	}
	if ad.Fields["peopleInterested"] != 1 || ad.Fields["peopleNotInterested"] != 1 {
		t.Errorf("interest split = %v", ad.Fields)
	}
	if len(h.ch.sent) != 2 || h.ch.sent[1] != filepath.Join(adsDir, "b.h265") {
		t.Errorf("sent = %v", h.ch.sent)
	}
	if h.loop.CurrentAd() != "b.h265" {
		t.Errorf("current ad = %q", h.loop.CurrentAd())
	}

	// later cadence ticks do not send while a request is outstanding
	h.steps(t, 3*DefaultCadence)
	if len(h.ch.sent) != 2 || h.ch.violations != 0 {
		t.Errorf("sent = %v, violations = %d", h.ch.sent, h.ch.violations)
	}
	if h.events.count(types.MeasurementAdData) != 1 {
		t.Errorf("AdData events = %d", h.events.count(types.MeasurementAdData))
	}
	if h.metrics.AcksOK.Load() != 1 || h.metrics.AdRequests.Load() != 2 {
		t.Errorf("metrics acks=%d requests=%d", h.metrics.AcksOK.Load(), h.metrics.AdRequests.Load())
	}
}

func TestStep_FailureAckRetriesOnNextCadenceTick(t *testing.T) {
	h := newHarness(t, testCatalog(), &frameSource{frames: -1})
	h.steps(t, DefaultCadence)

	h.ch.acks = append(h.ch.acks, playback.StatusFailed)
	h.steps(t, 1)
	if len(h.ch.sent) != 1 {
		t.Fatalf("sent right after failure: %v", h.ch.sent)
	}
	if h.events.count(types.MeasurementAdData) != 0 {
		t.Error("failed playback must not emit AdData")
	}

	h.steps(t, DefaultCadence-2)
	if len(h.ch.sent) != 1 {
		t.Fatalf("sent before next cadence tick: %v", h.ch.sent)
	}
	h.steps(t, 1)
	if len(h.ch.sent) != 2 || h.ch.sent[1] != filepath.Join(adsDir, "default2.h265") {
		t.Fatalf("retry sent = %v", h.ch.sent)
	}
	if h.metrics.AcksFailed.Load() != 1 {
		t.Errorf("failed acks = %d", h.metrics.AcksFailed.Load())
	}
}

func TestStep_FallbackCounted(t *testing.T) {
	// young men have no entry of their own in this catalog
	cat := catalog.New([]catalog.Entry{
		{Bucket: types.DefaultBucket, Ads: []string{"default.h265"}},
	})
	h := newHarness(t, cat, &frameSource{frames: -1, faces: func(int) []audience.Face {
		return []audience.Face{{MaleProbability: 0.9, Age: 60}}
	}})
	h.steps(t, DefaultCadence)

	if len(h.ch.sent) != 1 || h.ch.sent[0] != filepath.Join(adsDir, "default.h265") {
		t.Fatalf("sent = %v", h.ch.sent)
	}
	if h.metrics.CatalogFallbacks.Load() != 1 {
		t.Errorf("fallbacks = %d", h.metrics.CatalogFallbacks.Load())
	}
}

func TestRun_CaptureExhaustionKillsPlayer(t *testing.T) {
	h := newHarness(t, testCatalog(), &frameSource{frames: 75})
	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.player.kills != 1 {
		t.Errorf("kills = %d, want 1", h.player.kills)
	}
	if h.loop.Iteration() != 75 {
		t.Errorf("iterations = %d", h.loop.Iteration())
	}
	// the outstanding request is abandoned, not awaited
	if len(h.ch.sent) != 1 {
		t.Errorf("sent = %v", h.ch.sent)
	}
}

func TestRun_PipeErrorIsFatal(t *testing.T) {
	h := newHarness(t, testCatalog(), &frameSource{frames: -1})
	h.ch.sendErr = io.ErrClosedPipe

	err := h.loop.Run(context.Background())
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Run err = %v, want broken pipe", err)
	}
	if h.player.kills != 1 {
		t.Errorf("kills = %d, want 1", h.player.kills)
	}
	if h.loop.Iteration() != DefaultCadence {
		t.Errorf("stopped at iteration %d", h.loop.Iteration())
	}
}

func TestRun_AckReadErrorIsFatal(t *testing.T) {
	h := newHarness(t, testCatalog(), &frameSource{frames: -1})
	h.ch.recvErr = playback.ErrFailed

	if err := h.loop.Run(context.Background()); !errors.Is(err, playback.ErrFailed) {
		t.Fatalf("Run err = %v", err)
	}
	if h.player.kills != 1 {
		t.Errorf("kills = %d", h.player.kills)
	}
}

func TestRun_MissingDefaultBucketIsFatal(t *testing.T) {
	cat := catalog.New([]catalog.Entry{
		{Bucket: types.Bucket{Gender: types.Female, AgeGroup: types.Senior}, Ads: []string{"x.h265"}},
	})
	h := newHarness(t, cat, &frameSource{frames: -1})

	if err := h.loop.Run(context.Background()); !errors.Is(err, adselect.ErrNoDefault) {
		t.Fatalf("Run err = %v", err)
	}
	if h.player.kills != 1 {
		t.Errorf("kills = %d", h.player.kills)
	}
}

func TestRun_CaptureErrorIsFatal(t *testing.T) {
	boom := errors.New("camera unplugged")
	h := newHarness(t, testCatalog(), &frameSource{frames: -1, err: boom})

	if err := h.loop.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run err = %v", err)
	}
	if h.metrics.CaptureErrors.Load() != 1 {
		t.Errorf("capture errors = %d", h.metrics.CaptureErrors.Load())
	}
}

func TestRun_ContextCancel(t *testing.T) {
	h := newHarness(t, testCatalog(), &frameSource{frames: -1, delay: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.player.kills != 1 {
		t.Errorf("kills = %d", h.player.kills)
	}
}

// TestLoop_ProtocolRoundTrip drives a real controller over pipes
func TestLoop_ProtocolRoundTrip(t *testing.T) {
	reqR, reqW := io.Pipe()
	ackR, ackW := io.Pipe()
	defer reqW.Close()
	defer ackW.Close()

	ctrl := playback.NewController(reqW, ackR, playback.ControllerOptions{})
	defer ctrl.Close()

	requests := make(chan string, 4)
	go func() {
		rr := playback.NewRequestReader(reqR)
		for i := 0; ; i++ {
			path, err := rr.ReadRequest()
			if err != nil {
				return
			}
			requests <- path
			if i == 0 {
				playback.WriteAck(ackW, playback.StatusOK)
			}
		}
	}()

	cat := catalog.New([]catalog.Entry{
		{Bucket: types.DefaultBucket, Ads: []string{"ad1.mp4", "ad2.mp4"}},
	})
	w, _ := audience.NewWindow(audience.DefaultSamplePeriod, audience.DefaultWindowSize)
	events := &eventLog{}
	var states []playback.State
	loop, err := New(Config{}, Deps{
		Source:    &frameSource{frames: -1, delay: 100 * time.Microsecond},
		Window:    w,
		Estimator: visitors.New(),
		Engine:    adselect.New(cat),
		Channel:   ctrl,
		Player:    &fakePlayer{},
		Sink: telemetry.Multi{events, telemetry.Func(func(context.Context, types.Event) {
			states = append(states, ctrl.State())
		})},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < DefaultCadence; i++ {
		if err := loop.Step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if ctrl.State() != playback.StateAwaitingAck {
		t.Fatalf("after first request state = %s", ctrl.State())
	}
	if got := <-requests; got != "ad1.mp4" {
		t.Fatalf("first request = %q", got)
	}

	deadline := time.Now().Add(3 * time.Second)
	for events.count(types.MeasurementAdData) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ack never processed")
		}
		if err := loop.Step(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if got := <-requests; got != "ad2.mp4" {
		t.Errorf("second request = %q", got)
	}
	if n := events.count(types.MeasurementAdData); n != 1 {
		t.Errorf("AdData events = %d, want 1", n)
	}
	// the AdData event is emitted after the ack returned the channel to IDLE
	if last := states[len(states)-1]; last != playback.StateIdle {
		t.Errorf("state at AdData emission = %s, want IDLE", last)
	}
}
