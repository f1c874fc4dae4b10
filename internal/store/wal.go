package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

const walFileMode fs.FileMode = 0600

// WAL is an append-only JSON-lines log. Every Write is a single line followed
// by an fsync, so a record is either fully on disk or is a torn tail that
// Replay discards.
type WAL struct {
	file *os.File
	mu   sync.Mutex
}

func OpenWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, walFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}
	return &WAL{file: file}, nil
}

func (w *WAL) Write(v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("failed to encode wal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return err
	}
	return w.file.Sync()
}

// Replay calls fn for every complete record in order. A torn trailing record
// is cut off so later writes start on a clean line.
func (w *WAL) Replay(fn func(raw json.RawMessage) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(w.file)
	var good int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				return w.file.Truncate(good)
			}
			return nil
		}
		if err != nil {
			return err
		}

		if !json.Valid(line) {
			if _, peekErr := reader.Peek(1); errors.Is(peekErr, io.EOF) {
				return w.file.Truncate(good)
			}
			return fmt.Errorf("corrupt wal record at offset %d", good)
		}

		if err := fn(json.RawMessage(bytes.TrimSpace(line))); err != nil {
			return err
		}
		good += int64(len(line))
	}
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
