// Package service implements the ingestion pipeline: transcript tailing,
// event normalization, dedup, aggregation, session polling, alert
// evaluation and retention sweeping.
package service

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"
)

// Line is one complete transcript line with its source position. Offset is
// the byte offset of the line's first byte within the file.
type Line struct {
	File   string
	Offset int64
	Text   string
}

// fileState is what the tailer remembers about a file between cycles.
type fileState struct {
	size    int64
	mtime   time.Time
	offset  int64 // next byte to read
	partial []byte
}

// Tailer reads append-only files incrementally: each cycle reads only the
// byte range appended since the previous cycle and carries a trailing
// unterminated fragment forward, so every byte is read at most once over
// the file's lifetime. Not safe for concurrent use; the scan loop is the
// single caller.
type Tailer struct {
	states       map[string]*fileState
	maxLineBytes int
}

// NewTailer creates a tailer. Lines longer than maxLineBytes are dropped;
// zero means no limit.
func NewTailer(maxLineBytes int) *Tailer {
	return &Tailer{
		states:       make(map[string]*fileState),
		maxLineBytes: maxLineBytes,
	}
}

// ReadNew returns the complete lines appended to path since the last call.
// An unchanged file (same size and mtime) is a stat-only no-op. A file that
// shrank is treated as rotated: reading restarts at offset 0 and any
// carried fragment is discarded.
func (t *Tailer) ReadNew(path string) ([]Line, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	st, ok := t.states[path]
	if !ok {
		st = &fileState{}
		t.states[path] = st
	}

	size := info.Size()
	mtime := info.ModTime()

	if ok && size == st.size && mtime.Equal(st.mtime) {
		return nil, nil
	}
	if size < st.offset {
		st.offset = 0
		st.partial = nil
	}
	if size == st.offset {
		st.size = size
		st.mtime = mtime
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}
	buf := make([]byte, size-st.offset)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// The carried fragment's first byte sits at offset - len(partial).
	base := st.offset - int64(len(st.partial))
	data := append(st.partial, buf...)

	var lines []Line
	start := 0
	for i, b := range data {
		if b != '\n' {
			continue
		}
		raw := bytes.TrimSuffix(data[start:i], []byte("\r"))
		if len(raw) > 0 && (t.maxLineBytes == 0 || len(raw) <= t.maxLineBytes) {
			lines = append(lines, Line{File: path, Offset: base + int64(start), Text: string(raw)})
		}
		start = i + 1
	}

	st.partial = append([]byte(nil), data[start:]...)
	st.offset = size
	st.size = size
	st.mtime = mtime
	return lines, nil
}

// Forget drops the tracked state for a file that no longer exists.
func (t *Tailer) Forget(path string) {
	delete(t.states, path)
}
