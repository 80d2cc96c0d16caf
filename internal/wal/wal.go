// Package wal is an append-only JSON-lines write-ahead log.
//
// Every record is one line. A crash mid-append can leave a final line
// without its newline; replay drops that line and truncates the file back
// to the last complete record.
package wal

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

const fileMode fs.FileMode = 0o644

// ErrCorrupt reports a complete line that does not hold a JSON value.
var ErrCorrupt = errors.New("wal: corrupt record")

type WAL struct {
	file *os.File
	mu   sync.Mutex
	// size is the offset just past the last complete record.
	size int64
}

// Open opens or creates the log at path. Writes always go to the end.
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, fileMode)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat wal %s: %w", path, err)
	}
	return &WAL{file: file, size: info.Size()}, nil
}

// Write appends one record and fsyncs before returning. A failed append is
// cut back off so later records never follow a partial line.
func (w *WAL) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(line); err != nil {
		if terr := w.file.Truncate(w.size); terr != nil {
			return errors.Join(err, terr)
		}
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.size += int64(len(line))
	return nil
}

// ReadAll replays every record from the start of the log in write order.
// A trailing line without a newline is a torn append: it is not replayed,
// the file is truncated to drop it, and its length is returned as torn.
func (w *WAL) ReadAll(fn func(raw json.RawMessage) error) (torn int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	r := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				if terr := w.file.Truncate(offset); terr != nil {
					return 0, fmt.Errorf("truncate torn wal tail: %w", terr)
				}
				if serr := w.file.Sync(); serr != nil {
					return 0, serr
				}
			}
			w.size = offset
			return int64(len(line)), nil
		}
		if err != nil {
			return 0, fmt.Errorf("read wal: %w", err)
		}

		raw := bytes.TrimSpace(line)
		if len(raw) > 0 {
			if !json.Valid(raw) {
				return 0, fmt.Errorf("%w at offset %d", ErrCorrupt, offset)
			}
			if err := fn(json.RawMessage(raw)); err != nil {
				return 0, err
			}
		}
		offset += int64(len(line))
	}
}

func (w *WAL) Close() error {
	return w.file.Close()
}
