// Package recorder captures the live market-event stream to an
// append-only JSONL log that the replay engine can play back. One event
// per line, file order = event order.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/model"
)

const flushInterval = time.Second

// Recorder writes market events to a log file. Writes are buffered and
// flushed on a fixed cadence; Close flushes the remainder.
type Recorder struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	n   uint64
}

// Open appends to path, creating it if missing.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	return &Recorder{f: f, buf: bufio.NewWriterSize(f, 256*1024)}, nil
}

// Record appends one event as a single JSON line.
func (r *Recorder) Record(ev model.MarketEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("recorder: encode: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.buf.Write(data); err != nil {
		return fmt.Errorf("recorder: write: %w", err)
	}
	if err := r.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("recorder: write: %w", err)
	}
	r.n++
	return nil
}

// Run drains events from the channel until it closes or the context is
// cancelled, flushing on a fixed cadence.
func (r *Recorder) Run(ctx context.Context, events <-chan model.MarketEvent) error {
	tick := time.NewTicker(flushInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return r.Close()
		case <-tick.C:
			if err := r.Flush(); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				return r.Close()
			}
			if err := r.Record(ev); err != nil {
				logs.Errorf("recorder: dropping event: %v", err)
			}
		}
	}
}

// Count returns the number of events recorded so far.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Flush()
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.buf.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
