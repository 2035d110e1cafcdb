package monitor

import (
	"encoding/base64"
	"image"
	"testing"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/metrics"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

func TestSerialize(t *testing.T) {
	ev, err := Serialize(demographics(4))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if ev.Measurement != types.MeasurementDemographics {
		t.Errorf("measurement = %q", ev.Measurement)
	}
	raw, err := base64.StdEncoding.DecodeString(string(ev.ProtobufData))
	if err != nil {
		t.Fatalf("protobuf data is not base64: %v", err)
	}
	back, err := types.UnmarshalEventProto(raw)
	if err != nil {
		t.Fatalf("UnmarshalEventProto: %v", err)
	}
	if back.Fields["Total people"] != float64(4) {
		t.Errorf("fields = %v", back.Fields)
	}
}

func TestBroadcaster_SlowClientDrops(t *testing.T) {
	m := metrics.New()
	b := NewEventBroadcaster(1, m)

	fast, fastCh := b.Subscribe()
	_, slowCh := b.Subscribe()
	if got := m.StreamClients.Load(); got != 2 {
		t.Fatalf("StreamClients = %d, want 2", got)
	}

	ev := &SerializedEvent{Measurement: "x"}
	b.Broadcast(ev)
	<-fastCh
	b.Broadcast(ev)

	if got := b.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	if got := len(slowCh); got != 1 {
		t.Errorf("slow client buffered %d events, want 1", got)
	}

	b.Unsubscribe(fast)
	// ranging terminates only if Unsubscribe closed the channel
	for range fastCh {
	}
	if got := m.StreamClients.Load(); got != 1 {
		t.Errorf("StreamClients after unsubscribe = %d, want 1", got)
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewEventBroadcaster(0, nil)
	_, ch := b.Subscribe()
	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("channel open after Close")
	}
	if _, late := b.Subscribe(); late == nil {
		t.Fatal("nil channel")
	} else if _, ok := <-late; ok {
		t.Fatal("subscription after Close must be closed")
	}
	b.Broadcast(&SerializedEvent{})
}

func TestScaleToWidth(t *testing.T) {
	tests := []struct {
		name  string
		src   image.Rectangle
		width int
		want  image.Point
	}{
		{"downscales keeping aspect", image.Rect(0, 0, 1280, 720), 320, image.Pt(320, 180)},
		{"never upscales", image.Rect(0, 0, 160, 120), 320, image.Pt(160, 120)},
		{"zero width keeps source", image.Rect(0, 0, 640, 480), 0, image.Pt(640, 480)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := scaleToWidth(image.NewRGBA(tc.src), tc.width).Bounds().Size()
			if got != tc.want {
				t.Errorf("size = %v, want %v", got, tc.want)
			}
		})
	}
}
