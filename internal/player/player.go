// Package player provides the decode/render backends used by the ad player
// process.
package player

import (
	"context"
	"fmt"
	"os"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/annexb"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/playback"
)

var log = logger.For("Player")

// Checked rejects missing files and malformed raw streams before handing
// the path to the wrapped backend.
type Checked struct {
	next playback.Player
}

// WithChecks wraps p
func WithChecks(p playback.Player) *Checked {
	return &Checked{next: p}
}

func (c *Checked) Play(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("ad file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("ad file %s is a directory", path)
	}
	probe, err := annexb.ProbeFile(path)
	if err != nil {
		return fmt.Errorf("probe %s: %w", path, err)
	}
	if probe.Codec != "" {
		log.Debug("%s: %s stream, %d NAL units, keyframe=%v", path, probe.Codec, probe.Units, probe.Keyframe)
	}
	return c.next.Play(ctx, path)
}
