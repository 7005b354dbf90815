package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/yanun0323/errors"

	"papersim/internal/model"
)

// Writer appends feed events to a JSONL session file, one event per line.
// Append is safe to call from the feed goroutines.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewWriter opens (or creates) the session file for appending.
func NewWriter(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open session file").With("path", path)
	}
	buf := bufio.NewWriter(file)
	return &Writer{
		file: file,
		buf:  buf,
		enc:  json.NewEncoder(buf),
	}, nil
}

// Append writes one event as a JSON line.
func (w *Writer) Append(event model.Event) error {
	if !event.Valid() {
		return errors.New("append malformed event")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return errors.New("append to closed writer")
	}
	if err := w.enc.Encode(event); err != nil {
		return errors.Wrap(err, "encode event")
	}
	return nil
}

// Close flushes and closes the session file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		w.file = nil
		return errors.Wrap(err, "flush session file")
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return errors.Wrap(err, "close session file")
	}
	return nil
}
