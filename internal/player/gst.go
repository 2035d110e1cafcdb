package player

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/annexb"
)

// DefaultVideoSink renders on the attached display
const DefaultVideoSink = "autovideosink"

var gstInit sync.Once

// Gst plays ads through a GStreamer pipeline and blocks until EOS or error
type Gst struct {
	VideoSink string
	poll      time.Duration
}

// NewGst initializes GStreamer
func NewGst(videoSink string) *Gst {
	gstInit.Do(func() { gst.Init(nil) })
	if videoSink == "" {
		videoSink = DefaultVideoSink
	}
	return &Gst{VideoSink: videoSink, poll: 100 * time.Millisecond}
}

// Describe returns the pipeline description for path. Raw elementary
// streams get an explicit parser; everything else goes through playbin.
func (g *Gst) Describe(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	switch codec, _ := annexb.CodecFor(abs); codec {
	case annexb.H264:
		return fmt.Sprintf("filesrc location=%q ! h264parse ! decodebin ! videoconvert ! %s", abs, g.VideoSink), nil
	case annexb.H265:
		return fmt.Sprintf("filesrc location=%q ! h265parse ! decodebin ! videoconvert ! %s", abs, g.VideoSink), nil
	}
	uri := (&url.URL{Scheme: "file", Path: abs}).String()
	return fmt.Sprintf("playbin uri=%s video-sink=%s", uri, g.VideoSink), nil
}

func (g *Gst) Play(ctx context.Context, path string) error {
	desc, err := g.Describe(path)
	if err != nil {
		return err
	}
	log.Debug("Pipeline: %s", desc)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg := bus.TimedPop(g.poll)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			log.Warn("Pipeline warning: %s", gerr.Error())
		}
	}
}
