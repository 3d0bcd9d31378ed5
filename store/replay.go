package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/brensch/capture/match"
	"github.com/klauspost/compress/zstd"
)

// ReplayWriter appends match records to a zstd-compressed JSONL file, one
// record per line. Every record is written as its own zstd frame, so it is
// readable as soon as Write returns and reopening an existing log appends.
type ReplayWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
	n   int
}

func OpenReplayWriter(path string) (*ReplayWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("replay path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create replay dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open replay log: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &ReplayWriter{
		path: path,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 128*1024),
	}, nil
}

func (w *ReplayWriter) Path() string { return w.path }

// Written is the number of records written through this writer.
func (w *ReplayWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *ReplayWriter) Write(rec match.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return fmt.Errorf("replay writer is closed")
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.enc.Close(); err != nil {
		return err
	}
	w.enc.Reset(w.f)
	w.n++
	return nil
}

func (w *ReplayWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Write closes every frame, so nothing is pending here.
	w.w = nil
	w.enc = nil
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// ReadReplays decodes every record in a replay log.
func ReadReplays(path string) ([]match.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var out []match.Record
	for line := 1; sc.Scan(); line++ {
		var rec match.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: unmarshal: %w", filepath.Base(path), line, err)
		}
		out = append(out, rec)
	}
	// A torn final frame from a crashed writer is ignored.
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// FindReplay returns the record for matchID.
func FindReplay(path, matchID string) (match.Record, error) {
	recs, err := ReadReplays(path)
	if err != nil {
		return match.Record{}, err
	}
	for _, r := range recs {
		if r.MatchID == matchID {
			return r, nil
		}
	}
	return match.Record{}, fmt.Errorf("match %s not in %s", matchID, path)
}
