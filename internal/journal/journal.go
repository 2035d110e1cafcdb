// Package journal appends telemetry events to a local JSON Lines file so a
// kiosk without network backends still keeps its audience history.
package journal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/pkg/types"
)

// Journal records events to file
type Journal struct {
	mu           sync.RWMutex
	file         *os.File
	w            *bufio.Writer
	filename     string
	basePath     string
	recording    bool
	eventCount   uint64
	bytesWritten uint64
	dropped      atomic.Uint64
	startTime    time.Time
	eventChan    chan types.Event
	wg           sync.WaitGroup
	now          func() time.Time
}

var log = logger.For("Journal")

// New creates a journal writing under basePath
func New(basePath string) *Journal {
	return &Journal{
		basePath: basePath,
		now:      time.Now,
	}
}

// Start opens a new journal file
func (j *Journal) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.recording {
		return fmt.Errorf("already recording")
	}
	if err := os.MkdirAll(j.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create journal dir: %w", err)
	}

	timestamp := j.now().Format("20060102_150405")
	filename := fmt.Sprintf("journal_%s.jsonl", timestamp)

	file, err := os.OpenFile(filepath.Join(j.basePath, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	j.file = file
	j.w = bufio.NewWriter(file)
	j.filename = filename
	j.recording = true
	j.eventCount = 0
	j.bytesWritten = 0
	j.dropped.Store(0)
	j.startTime = j.now()
	j.eventChan = make(chan types.Event, 64)

	j.wg.Add(1)
	go j.writeEvents(j.eventChan)

	log.Info("Journaling to %s", filename)
	return nil
}

// Stop flushes and closes the current file
func (j *Journal) Stop() error {
	j.mu.Lock()
	if !j.recording {
		j.mu.Unlock()
		return fmt.Errorf("not recording")
	}
	j.recording = false
	close(j.eventChan)
	j.mu.Unlock()

	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		if err := j.w.Flush(); err != nil {
			return fmt.Errorf("failed to flush file: %w", err)
		}
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync file: %w", err)
		}
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
		j.file = nil
		j.w = nil
	}
	return nil
}

// Emit queues an event (non-blocking); events arriving while stopped or
// with a full queue are dropped
func (j *Journal) Emit(_ context.Context, e types.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if !j.recording {
		return
	}
	select {
	case j.eventChan <- e:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) writeEvents(events <-chan types.Event) {
	defer j.wg.Done()
	for e := range events {
		j.writeEvent(e)
	}
}

func (j *Journal) writeEvent(e types.Event) {
	line, err := e.MarshalJSONBytes()
	if err != nil {
		log.Warn("Cannot encode %s event: %v", e.Measurement, err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.w == nil {
		return
	}
	line = append(line, '\n')
	n, err := j.w.Write(line)
	if err != nil {
		log.Error("Write failed: %v", err)
		return
	}
	j.bytesWritten += uint64(n)
	j.eventCount++
}

// IsRecording returns true while a file is open
func (j *Journal) IsRecording() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.recording
}

// GetStatus returns the current journal status
func (j *Journal) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var duration time.Duration
	if j.recording {
		duration = j.now().Sub(j.startTime)
	}
	return Status{
		Recording:    j.recording,
		Filename:     j.filename,
		EventCount:   j.eventCount,
		BytesWritten: j.bytesWritten,
		Dropped:      j.dropped.Load(),
		Duration:     duration,
		StartTime:    j.startTime,
	}
}

// Close stops the journal if it is running
func (j *Journal) Close() error {
	if j.IsRecording() {
		return j.Stop()
	}
	return nil
}

// Status holds the current journal status
type Status struct {
	Recording    bool          `json:"recording"`
	Filename     string        `json:"filename"`
	EventCount   uint64        `json:"event_count"`
	BytesWritten uint64        `json:"bytes_written"`
	Dropped      uint64        `json:"dropped"`
	Duration     time.Duration `json:"duration_ms"`
	StartTime    time.Time     `json:"start_time"`
}
