package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
)

// Player is the decode/render collaborator: play one file, report the outcome
type Player interface {
	Play(ctx context.Context, path string) error
}

// PlayerFunc adapts a function to Player
type PlayerFunc func(ctx context.Context, path string) error

func (f PlayerFunc) Play(ctx context.Context, path string) error { return f(ctx, path) }

// ServerState is the player side of the protocol
type ServerState int32

const (
	ServerIdle ServerState = iota
	ServerPlaying
)

func (s ServerState) String() string {
	if s == ServerPlaying {
		return "PLAYING"
	}
	return "IDLE"
}

// Server answers requests read from one pipe with acks on the other
type Server struct {
	player Player
	state  atomic.Int32
	played atomic.Uint64
	failed atomic.Uint64
	log    logger.Scoped
}

// NewServer wraps a player
func NewServer(p Player) *Server {
	return &Server{player: p, log: logger.For("Player")}
}

// State returns IDLE or PLAYING
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Stats returns the number of successful and failed plays
func (s *Server) Stats() (played, failed uint64) {
	return s.played.Load(), s.failed.Load()
}

// Serve handles requests until the request stream closes (nil) or an I/O
// error occurs. A failed playback is acked with StatusFailed and serving
// continues.
func (s *Server) Serve(ctx context.Context, requests io.Reader, acks io.Writer) error {
	rr := NewRequestReader(requests)
	for {
		path, err := rr.ReadRequest()
		if errors.Is(err, io.EOF) {
			s.log.Info("Request channel closed")
			return nil
		}
		if errors.Is(err, ErrInvalidPath) {
			s.log.Warn("Rejecting request: %v", err)
			if err := WriteAck(acks, StatusFailed); err != nil {
				return fmt.Errorf("write ack: %w", err)
			}
			s.failed.Add(1)
			continue
		}
		if err != nil {
			return fmt.Errorf("read request: %w", err)
		}

		s.state.Store(int32(ServerPlaying))
		s.log.Info("Playing %s", path)
		status := StatusOK
		if err := s.player.Play(ctx, path); err != nil {
			s.log.Error("Playback of %s failed: %v", path, err)
			status = StatusFailed
			s.failed.Add(1)
		} else {
			s.played.Add(1)
		}
		s.state.Store(int32(ServerIdle))

		if err := WriteAck(acks, status); err != nil {
			return fmt.Errorf("write ack: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
