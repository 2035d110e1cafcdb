package monitor

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/metrics"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Measurement  string
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// Serialize encodes an event once for every stream format.
func Serialize(e types.Event) (*SerializedEvent, error) {
	jsonData, err := e.MarshalJSONBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	pbData, err := e.MarshalProto()
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(pbData)))
	base64.StdEncoding.Encode(encoded, pbData)
	return &SerializedEvent{
		Measurement:  e.Measurement,
		JSONData:     jsonData,
		ProtobufData: encoded,
	}, nil
}

// EventBroadcaster manages fanout of telemetry events to SSE clients.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	buffer  int
	closed  bool
	dropped uint64
	metrics *metrics.Metrics
}

// NewEventBroadcaster creates a broadcaster whose clients buffer up to
// buffer events before dropping.
func NewEventBroadcaster(buffer int, m *metrics.Metrics) *EventBroadcaster {
	if buffer <= 0 {
		buffer = 8
	}
	return &EventBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		buffer:  buffer,
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
// The channel is already closed when the broadcaster is closed.
func (b *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, b.buffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch
	if b.metrics != nil {
		b.metrics.StreamClients.Store(uint64(len(b.clients)))
	}

	logger.Debug("EventBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *EventBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		if b.metrics != nil {
			b.metrics.StreamClients.Store(uint64(len(b.clients)))
		}
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Broadcast delivers the event to every client without blocking.
func (b *EventBroadcaster) Broadcast(event *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
			b.dropped++
		}
	}
}

// ClientCount returns the number of subscribed clients.
func (b *EventBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Dropped returns how many per-client deliveries were skipped.
func (b *EventBroadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close disconnects every client.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	if b.metrics != nil {
		b.metrics.StreamClients.Store(0)
	}
}
