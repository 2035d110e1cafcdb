package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/metrics"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// DefaultQueueSize bounds the events waiting for a slow backend
const DefaultQueueSize = 64

// Async queues events for a Writer on its own goroutine. A full queue drops
// the event instead of blocking the caller.
type Async struct {
	name    string
	w       Writer
	queue   chan types.Event
	timeout time.Duration
	metrics *metrics.Metrics
	log     logger.Scoped

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsync starts the delivery goroutine. m may be nil.
func NewAsync(name string, w Writer, queueSize int, m *metrics.Metrics) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	a := &Async{
		name:    name,
		w:       w,
		queue:   make(chan types.Event, queueSize),
		timeout: 5 * time.Second,
		metrics: m,
		log:     logger.For("Telemetry"),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Emit enqueues e or drops it when the queue is full
func (a *Async) Emit(_ context.Context, e types.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
		if a.metrics != nil {
			a.metrics.TelemetryDropped.Add(1)
		}
		a.log.Warn("%s queue full, dropping %s event", a.name, e.Measurement)
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.w.Write(ctx, e)
		cancel()
		if err != nil {
			if a.metrics != nil {
				a.metrics.TelemetryErrors.Add(1)
			}
			a.log.Error("%s write failed: %v", a.name, err)
			continue
		}
		if a.metrics != nil {
			a.metrics.TelemetryEvents.Add(1)
		}
	}
}

// Close drains the queue and closes the writer
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		a.wg.Wait()
		err = a.w.Close()
	})
	return err
}
