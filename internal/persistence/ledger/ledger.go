// Package ledger is the durable, append-only record of committed events.
// Events are stored as JSONL inside zstd-framed segment files. There is no
// API to modify or remove a written record; the only write operation is
// Append, and it commits a whole tick batch or nothing.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"observatory.world/internal/sim/world"
)

// Writer appends tick batches to segment files under dir. A segment is
// named by the first sequence number it holds, so lexical order is ledger
// order and a restarted writer always opens a fresh segment instead of
// appending after a possibly torn tail. Segments also rotate hourly.
type Writer struct {
	dir string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer

	lastSeq uint64
}

// NewWriter opens a ledger writer. lastSeq is the highest sequence number
// already durably recorded (0 for a fresh world); Append enforces that the
// sequence continues gap-free from there.
func NewWriter(dir string, lastSeq uint64) *Writer {
	return &Writer{dir: dir, lastSeq: lastSeq}
}

// Append durably persists one tick's event batch. The batch is encoded
// fully before any byte is written, and the zstd frame is flushed and the
// file fsynced before Append returns: an action has not "happened" until
// its event is on disk. Any error is fatal to the tick: the engine halts
// rather than continue with an unrecorded mutation.
func (l *Writer) Append(events []world.Event) error {
	if len(events) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf bytes.Buffer
	tick := events[0].Tick
	for _, ev := range events {
		if ev.Sequence != l.lastSeq+1 {
			return fmt.Errorf("ledger: sequence %d does not continue %d", ev.Sequence, l.lastSeq)
		}
		if ev.Tick != tick {
			return fmt.Errorf("ledger: mixed ticks %d and %d in one batch", tick, ev.Tick)
		}
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("ledger: marshal seq %d: %w", ev.Sequence, err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
		l.lastSeq = ev.Sequence
	}

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != l.curHour || l.f == nil {
		// The new segment starts at the first sequence of this batch. When
		// the name collides with an earlier segment, that segment held only
		// a torn batch that never committed, and truncating it is correct.
		if err := l.rotateLocked(hour, events[0].Sequence); err != nil {
			return err
		}
	}

	if _, err := l.w.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	if err := l.enc.Flush(); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *Writer) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

func (l *Writer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Writer) rotateLocked(hour string, firstSeq uint64) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	path := l.pathForSeq(firstSeq)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.enc = enc
	l.w = bufio.NewWriterSize(enc, 128*1024)
	l.curHour = hour
	return nil
}

func (l *Writer) closeLocked() error {
	var err1 error
	if l.w != nil {
		_ = l.w.Flush()
	}
	if l.enc != nil {
		err1 = l.enc.Close()
		l.enc = nil
	}
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.w = nil
	return err1
}

func (l *Writer) pathForSeq(firstSeq uint64) string {
	return filepath.Join(l.dir, fmt.Sprintf("ledger-%016d.jsonl.zst", firstSeq))
}
