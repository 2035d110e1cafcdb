// Package telemetry delivers Demographics and AdData measurements to the
// configured backends. Every sink is fire-and-forget: Emit never reports
// failure to the control loop.
package telemetry

import (
	"context"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// Sink accepts measurement events
type Sink interface {
	Emit(ctx context.Context, e types.Event)
}

// Writer is a backend that can fail; Async turns it into a Sink
type Writer interface {
	Write(ctx context.Context, e types.Event) error
	Close() error
}

// Multi fans an event out to several sinks in order
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e types.Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// Discard drops every event
type Discard struct{}

func (Discard) Emit(context.Context, types.Event) {}

// Func adapts a function to Sink
type Func func(ctx context.Context, e types.Event)

func (f Func) Emit(ctx context.Context, e types.Event) { f(ctx, e) }
