package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"observatory.world/internal/sim/world"
)

// ScanTicks reads every complete tick batch from the ledger in sequence
// order and passes each to fn. A trailing batch without its closing TICK
// event (a crash mid-commit) is discarded: the tick never "happened".
// Sequence numbers are verified strictly increasing and gap-free; the one
// allowed regression is a later segment reissuing the sequences of an
// unclosed batch, which supersedes the torn copy. Any other violation
// aborts the scan with an error.
func ScanTicks(dir string, fn func(tick uint64, events []world.Event) error) error {
	files, err := segmentFiles(dir)
	if err != nil {
		return err
	}

	var pending []world.Event
	var lastSeq uint64
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		batch := pending
		pending = nil
		return fn(batch[0].Tick, batch)
	}

	for _, path := range files {
		if err := scanFile(path, func(ev world.Event) error {
			if len(pending) > 0 && ev.Sequence == pending[0].Sequence {
				// A restarted writer reissued the sequences of an unclosed
				// batch; the torn copy is superseded by this one.
				lastSeq = ev.Sequence - 1
				pending = nil
			}
			if ev.Sequence != lastSeq+1 {
				return fmt.Errorf("ledger: sequence gap: %d after %d", ev.Sequence, lastSeq)
			}
			lastSeq = ev.Sequence
			if len(pending) > 0 && ev.Tick != pending[0].Tick {
				return fmt.Errorf("ledger: tick %d opened before tick %d closed", ev.Tick, pending[0].Tick)
			}
			pending = append(pending, ev)
			if ev.Type == world.EvTick {
				return flush()
			}
			return nil
		}); err != nil {
			return err
		}
	}
	// Anything left over is an incomplete trailing batch.
	return nil
}

// Tail summarizes the durable ledger state: the last committed tick and
// the last committed sequence number. Used on restart to resume the writer
// and to bound replay.
func Tail(dir string) (lastTick, lastSeq uint64, err error) {
	err = ScanTicks(dir, func(tick uint64, events []world.Event) error {
		lastTick = tick
		lastSeq = events[len(events)-1].Sequence
		return nil
	})
	return lastTick, lastSeq, err
}

func segmentFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "ledger-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func scanFile(path string, fn func(world.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				var ev world.Event
				if uerr := json.Unmarshal(line, &ev); uerr != nil {
					// A torn final line from a crash mid-write; nothing
					// after it can be trusted.
					return nil
				}
				if ferr := fn(ev); ferr != nil {
					return ferr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
