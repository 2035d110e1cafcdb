package monitor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/journal"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/playback"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func demographics(people int) types.Event {
	return types.DemographicsEvent(types.Demographics{
		People: people, Male: people, UniqueVisitors: 3, Timestamp: testTime,
	})
}

func adData(prev, cur string) types.Event {
	return types.AdPlaybackEvent(types.AdPlayback{
		PreviousAd: prev, CurrentAd: cur, PeopleInterested: 1, Timestamp: testTime,
	})
}

func newMonitorServer(t *testing.T, state playback.State, opts Options) (*Monitor, *testClient) {
	t.Helper()
	m := NewMonitor(DefaultConfig(), fixedState(state), nil)
	t.Cleanup(m.Close)
	return m, newTestServer(t, NewServer(DefaultConfig(), m, opts))
}

func TestHealth(t *testing.T) {
	_, c := newMonitorServer(t, playback.StateIdle, Options{})
	resp, body := c.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	if got := decodeJSONMap(t, body)["status"]; got != "ok" {
		t.Fatalf("status = %v", got)
	}
}

func TestIndexServesDashboard(t *testing.T) {
	_, c := newMonitorServer(t, playback.StateIdle, Options{})
	resp, body := c.get(t, "/")
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("content-type = %q", resp.Header.Get("Content-Type"))
	}
	if !bytes.Contains(body, []byte("/api/events/stream")) {
		t.Fatal("dashboard does not subscribe to the event stream")
	}
}

func TestStatusPayload(t *testing.T) {
	m, c := newMonitorServer(t, playback.StateAwaitingAck, Options{})
	m.Emit(context.Background(), demographics(2))
	m.Emit(context.Background(), adData("a.h265", "b.h265"))

	resp, body := c.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)

	if got := payload["playback_state"]; got != "AWAITING_ACK" {
		t.Errorf("playback_state = %v", got)
	}
	stats := requireMap(t, payload["monitor"], "monitor")
	if got := requireNumber(t, stats["events_seen"], "events_seen"); got != 2 {
		t.Errorf("events_seen = %v, want 2", got)
	}

	demo := requireMap(t, payload["latest_demographics"], "latest_demographics")
	fields := requireMap(t, demo["fields"], "fields")
	if got := requireNumber(t, fields["Total people"], "Total people"); got != 2 {
		t.Errorf("Total people = %v", got)
	}

	ad := requireMap(t, payload["latest_ad"], "latest_ad")
	adFields := requireMap(t, ad["fields"], "fields")
	if adFields["previousAd"] != "a.h265" || adFields["currentAd"] != "b.h265" {
		t.Errorf("latest ad fields = %v", adFields)
	}
	if _, ok := payload["journal"]; ok {
		t.Error("journal section present without a journal")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	m := NewMonitor(cfg, nil, nil)
	for i := 0; i < 5; i++ {
		m.Emit(context.Background(), demographics(i))
	}

	snap := m.Snapshot()
	if len(snap.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(snap.History))
	}
	if got := snap.History[0].Fields["Total people"]; got != 2 {
		t.Errorf("oldest kept = %v, want 2", got)
	}
	if snap.PlaybackState != "UNKNOWN" {
		t.Errorf("playback state without reporter = %q", snap.PlaybackState)
	}
}

func TestEventsStream(t *testing.T) {
	tests := []struct {
		name       string
		accept     string
		wantFormat string
	}{
		{"json by default", "", "application/json"},
		{"protobuf on request", "application/x-protobuf", "application/protobuf"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, c := newMonitorServer(t, playback.StateIdle, Options{})
			stream := openSSE(t, c.baseURL+"/api/events/stream", tc.accept)

			if ct := stream.resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
				t.Fatalf("content-type = %q", ct)
			}
			if got := stream.resp.Header.Get("X-Content-Format"); got != tc.wantFormat {
				t.Fatalf("X-Content-Format = %q, want %q", got, tc.wantFormat)
			}

			m.Emit(context.Background(), adData("a.h265", "b.h265"))
			name, data, err := stream.next(2 * time.Second)
			if err != nil {
				t.Fatalf("read event: %v", err)
			}
			if name != types.MeasurementAdData {
				t.Errorf("event name = %q", name)
			}

			var ev types.Event
			if tc.wantFormat == "application/json" {
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					t.Fatalf("decode json event: %v", err)
				}
			} else {
				raw, err := base64.StdEncoding.DecodeString(data)
				if err != nil {
					t.Fatalf("decode base64: %v", err)
				}
				if ev, err = types.UnmarshalEventProto(raw); err != nil {
					t.Fatalf("decode protobuf event: %v", err)
				}
			}
			if ev.Measurement != types.MeasurementAdData || ev.Fields["currentAd"] != "b.h265" {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	m, c := newMonitorServer(t, playback.StateIdle, Options{})

	resp, body := c.get(t, "/api/snapshot")
	if resp.Header.Get("X-Preview-Available") != "false" {
		t.Fatalf("blank frame not flagged: %v", resp.Header)
	}
	if _, err := jpeg.Decode(bytes.NewReader(body)); err != nil {
		t.Fatalf("blank frame is not a jpeg: %v", err)
	}

	src := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	m.UpdatePreview(src)

	resp, body = c.get(t, "/api/snapshot")
	if resp.Header.Get("X-Preview-Available") != "true" {
		t.Fatalf("preview not flagged: %v", resp.Header)
	}
	img, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("preview is not a jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("preview size = %v, want 320x240", b.Size())
	}
}

func TestJournalEndpoints(t *testing.T) {
	j := journal.New(t.TempDir())
	t.Cleanup(func() { _ = j.Close() })
	_, c := newMonitorServer(t, playback.StateIdle, Options{Journal: j})

	resp, body := c.post(t, "/api/journal/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d body=%s", resp.StatusCode, body)
	}
	if got := decodeJSONMap(t, body)["status"]; got != "recording" {
		t.Fatalf("start payload status = %v", got)
	}

	if resp, _ := c.post(t, "/api/journal/start", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("second start status = %d, want 400", resp.StatusCode)
	}

	_, body = c.get(t, "/api/status")
	js := requireMap(t, decodeJSONMap(t, body)["journal"], "journal")
	if js["recording"] != true {
		t.Errorf("status journal = %v", js)
	}

	resp, body = c.post(t, "/api/journal/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d body=%s", resp.StatusCode, body)
	}
	if resp, _ := c.post(t, "/api/journal/stop", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("second stop status = %d, want 400", resp.StatusCode)
	}
}

func TestJournalEndpointsWithoutJournal(t *testing.T) {
	_, c := newMonitorServer(t, playback.StateIdle, Options{})
	for _, path := range []string{"/api/journal/start", "/api/journal/stop"} {
		if resp, _ := c.post(t, path, nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("POST %s status = %d, want 404", path, resp.StatusCode)
		}
	}
	if resp, _ := c.get(t, "/api/journal/status"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /api/journal/status status = %d, want 404", resp.StatusCode)
	}
}

type fakeOffers struct {
	got    []byte
	answer []byte
	err    error
}

func (f *fakeOffers) HandleOffer(offer []byte) ([]byte, error) {
	f.got = offer
	return f.answer, f.err
}

func TestWebRTCOffer(t *testing.T) {
	validOffer := []byte(`{"type":"offer","sdp":"v=0"}`)

	tests := []struct {
		name       string
		handler    OfferHandler
		body       []byte
		wantStatus int
	}{
		{"not configured", nil, validOffer, http.StatusServiceUnavailable},
		{"malformed json", &fakeOffers{}, []byte(`{`), http.StatusBadRequest},
		{"missing sdp", &fakeOffers{}, []byte(`{"type":"offer"}`), http.StatusBadRequest},
		{"rejected", &fakeOffers{err: errors.New("maximum clients reached (1)")}, validOffer, http.StatusServiceUnavailable},
		{"answered", &fakeOffers{answer: []byte(`{"type":"answer","sdp":"v=0"}`)}, validOffer, http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, c := newMonitorServer(t, playback.StateIdle, Options{WebRTC: tc.handler})
			resp, body := c.post(t, "/api/webrtc/offer", tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body=%s)", resp.StatusCode, tc.wantStatus, body)
			}
			if tc.wantStatus == http.StatusOK {
				if got := decodeJSONMap(t, body)["type"]; got != "answer" {
					t.Errorf("answer type = %v", got)
				}
				if f := tc.handler.(*fakeOffers); !bytes.Equal(f.got, tc.body) {
					t.Errorf("handler got %s", f.got)
				}
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, c := newMonitorServer(t, playback.StateIdle, Options{})
	if resp, _ := c.get(t, "/api/webrtc/offer"); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/webrtc/offer status = %d, want 405", resp.StatusCode)
	}
}

type relayLog struct{ events []types.Event }

func (r *relayLog) Broadcast(e types.Event) { r.events = append(r.events, e) }

func TestEmitRelaysEvents(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil)
	r := &relayLog{}
	m.SetRelay(r)
	m.Emit(context.Background(), demographics(1))
	if len(r.events) != 1 || r.events[0].Measurement != types.MeasurementDemographics {
		t.Fatalf("relayed = %+v", r.events)
	}
}
