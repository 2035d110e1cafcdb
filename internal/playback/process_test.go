package playback

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// TestHelperProcess is the player side when re-executed by StartProcess
func TestHelperProcess(t *testing.T) {
	if os.Getenv("KIOSK_WANT_HELPER_PROCESS") != "1" {
		return
	}
	requests, acks, err := InheritedPipes()
	if err != nil {
		os.Exit(2)
	}
	srv := NewServer(PlayerFunc(func(_ context.Context, path string) error {
		switch path {
		case "fail.h265":
			return errors.New("cannot decode")
		case "hang.h265":
			select {}
		}
		return nil
	}))
	if err := srv.Serve(context.Background(), requests, acks); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func startHelper(t *testing.T) *Process {
	t.Helper()
	t.Setenv("KIOSK_WANT_HELPER_PROCESS", "1")
	p, err := StartProcess(os.Args[0], "-test.run=^TestHelperProcess$")
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	t.Cleanup(func() { p.Kill() })
	return p
}

func TestProcess_RoundTrip(t *testing.T) {
	p := startHelper(t)
	c := NewController(p.Requests(), p.Acks(), ControllerOptions{})
	defer c.Close()

	for _, tc := range []struct {
		path string
		want Status
	}{
		{"ok.h265", StatusOK},
		{"fail.h265", StatusFailed},
		{"ok.h265", StatusOK},
	} {
		if err := c.Send(tc.path); err != nil {
			t.Fatalf("Send(%s): %v", tc.path, err)
		}
		if got := waitAck(t, c); got != tc.want {
			t.Errorf("%s: status %s, want %s", tc.path, got, tc.want)
		}
	}
}

func TestProcess_KillWhilePlaying(t *testing.T) {
	p := startHelper(t)
	c := NewController(p.Requests(), p.Acks(), ControllerOptions{})
	defer c.Close()

	if err := c.Send("hang.h265"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("player not reaped")
	}
	if err := p.Kill(); err != nil {
		t.Errorf("second Kill: %v", err)
	}
}
