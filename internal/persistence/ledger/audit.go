package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"observatory.world/internal/sim/world"
)

// AuditLogger records rejected actions to a JSONL+zstd stream separate
// from the committed ledger. Rejections are advisory: losing one on crash
// is acceptable, so writes are buffered and only flushed on rotation and
// close, not fsynced per entry.
type AuditLogger struct {
	mu   sync.Mutex
	dir  string
	hour string
	f    *os.File
	zw   *zstd.Encoder
	bw   *bufio.Writer
}

func NewAuditLogger(dir string) (*AuditLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &AuditLogger{dir: dir}, nil
}

func (a *AuditLogger) WriteAudit(e world.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if a.f == nil || hour != a.hour {
		if err := a.rotateLocked(hour); err != nil {
			return err
		}
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := a.bw.Write(line); err != nil {
		return err
	}
	return a.bw.WriteByte('\n')
}

func (a *AuditLogger) rotateLocked(hour string) error {
	if err := a.closeLocked(); err != nil {
		return err
	}
	path := filepath.Join(a.dir, fmt.Sprintf("audit-%s.jsonl.zst", hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	a.f = f
	a.zw = zw
	a.bw = bufio.NewWriterSize(zw, 64*1024)
	a.hour = hour
	return nil
}

func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *AuditLogger) closeLocked() error {
	if a.f == nil {
		return nil
	}
	a.bw.Flush()
	a.zw.Close()
	err := a.f.Close()
	a.f, a.zw, a.bw = nil, nil, nil
	return err
}
