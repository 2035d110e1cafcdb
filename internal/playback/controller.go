package playback

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// State is the controller side of the protocol
type State int32

const (
	StateIdle State = iota
	StateAwaitingAck
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingAck:
		return "AWAITING_ACK"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrAwaitingAck is returned by Send while a request is outstanding
	ErrAwaitingAck = errors.New("request already outstanding")
	// ErrFailed wraps every error once the controller reached FAILED
	ErrFailed = errors.New("playback channel failed")
	// ErrAckTimeout is the failure cause when an ack is overdue
	ErrAckTimeout = errors.New("ack timeout")
	// ErrUnexpectedAck is the failure cause for an ack with no request outstanding
	ErrUnexpectedAck = errors.New("ack without outstanding request")
)

// ControllerOptions tunes a Controller
type ControllerOptions struct {
	// AckTimeout fails the channel when an ack is overdue. Zero waits forever.
	AckTimeout time.Duration
	// Now replaces time.Now in tests
	Now func() time.Time
}

type ackResult struct {
	status Status
	err    error
}

// Controller is the sending side: it writes requests and polls acks without
// blocking. Send and TryReceive must be called from one goroutine; State may
// be read from any.
type Controller struct {
	w    io.Writer
	acks chan ackResult
	done chan struct{}
	once sync.Once

	state   atomic.Int32
	err     error
	sentAt  time.Time
	pending string

	ackTimeout time.Duration
	now        func() time.Time
}

// NewController starts pumping acks from r and writes requests to w
func NewController(w io.Writer, r io.Reader, opts ControllerOptions) *Controller {
	c := &Controller{
		w:          w,
		acks:       make(chan ackResult, 1),
		done:       make(chan struct{}),
		ackTimeout: opts.AckTimeout,
		now:        opts.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	go c.pump(r)
	return c
}

// pump turns the blocking ack stream into a channel the loop can poll
func (c *Controller) pump(r io.Reader) {
	for {
		s, err := ReadAck(r)
		select {
		case c.acks <- ackResult{status: s, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// State returns the current protocol state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Err returns the cause of FAILED, or nil
func (c *Controller) Err() error {
	return c.err
}

// Pending returns the path awaiting an ack, if any
func (c *Controller) Pending() string {
	return c.pending
}

func (c *Controller) fail(err error) error {
	c.err = fmt.Errorf("%w: %w", ErrFailed, err)
	c.state.Store(int32(StateFailed))
	return c.err
}

// Send writes one request. It refuses while a request is outstanding and
// moves to FAILED on any write error.
func (c *Controller) Send(path string) error {
	switch c.State() {
	case StateFailed:
		return c.err
	case StateAwaitingAck:
		return fmt.Errorf("%w: %s", ErrAwaitingAck, c.pending)
	}
	if err := WriteRequest(c.w, path); err != nil {
		if errors.Is(err, ErrInvalidPath) {
			return err
		}
		return c.fail(fmt.Errorf("write request: %w", err))
	}
	c.pending = path
	c.sentAt = c.now()
	c.state.Store(int32(StateAwaitingAck))
	return nil
}

// TryReceive polls for an ack without blocking. ok reports whether one was
// consumed; the controller is IDLE again when it was.
func (c *Controller) TryReceive() (status Status, ok bool, err error) {
	if c.State() == StateFailed {
		return 0, false, c.err
	}

	select {
	case res := <-c.acks:
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				res.err = io.ErrUnexpectedEOF
			}
			return 0, false, c.fail(fmt.Errorf("read ack: %w", res.err))
		}
		if c.State() != StateAwaitingAck {
			return 0, false, c.fail(ErrUnexpectedAck)
		}
		c.pending = ""
		c.state.Store(int32(StateIdle))
		return res.status, true, nil
	default:
	}

	if c.ackTimeout > 0 && c.State() == StateAwaitingAck && c.now().Sub(c.sentAt) > c.ackTimeout {
		return 0, false, c.fail(fmt.Errorf("%w after %s waiting for %s", ErrAckTimeout, c.ackTimeout, c.pending))
	}
	return 0, false, nil
}

// Close stops the ack pump. The pipes themselves belong to the caller.
func (c *Controller) Close() {
	c.once.Do(func() { close(c.done) })
}
