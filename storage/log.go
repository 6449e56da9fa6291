package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/c360studio/icl/events"
)

// maxLineSize bounds one log line; prompts and replies are logged in full.
const maxLineSize = 32 << 20

// Log appends events to an execution.jsonl file. Every append opens the
// file, writes one line and syncs it, so a crash loses at most the event
// being written.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog creates a log writer for path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file.
func (l *Log) Path() string { return l.path }

// Append writes e as one JSON line.
func (l *Log) Append(e events.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("flush log: %w", err)
	}
	return f.Close()
}

// Emit implements events.Sink.
func (l *Log) Emit(_ context.Context, e events.Event) error {
	return l.Append(e)
}

// ReadLog reads every event of a log file. A missing file is an empty log.
func ReadLog(path string) ([]events.Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	return DecodeLog(f)
}

// DecodeLog parses JSON lines. An unterminated last line that fails to
// parse is a write cut short by a crash and is dropped; any other
// malformed line is an error.
func DecodeLog(r io.Reader) ([]events.Event, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var out []events.Event
	for n := 1; ; n++ {
		line, err := readLine(br)
		if err != nil && !errors.Is(err, io.EOF) {
			return out, fmt.Errorf("read log line %d: %w", n, err)
		}
		complete := len(line) > 0 && line[len(line)-1] == '\n'
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var e events.Event
			if uerr := json.Unmarshal(trimmed, &e); uerr != nil {
				if !complete && errors.Is(err, io.EOF) {
					return out, nil
				}
				return out, fmt.Errorf("decode log line %d: %w", n, uerr)
			}
			out = append(out, e)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
	}
}

func readLine(br *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineSize {
			return nil, fmt.Errorf("line exceeds %d bytes", maxLineSize)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, err
	}
}
