package recorder

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/yanun0323/errors"

	"papersim/internal/model"
)

// Reader iterates a JSONL session stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader wraps a session stream. Oversized lines up to 8 MiB are
// accepted to cover deep book snapshots.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next recorded event, or io.EOF when the stream ends.
func (r *Reader) Next() (model.Event, error) {
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var event model.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return model.Event{}, errors.Wrapf(err, "decode line %d", r.line)
		}
		if !event.Valid() {
			return model.Event{}, errors.Errorf("line %d: malformed event", r.line)
		}
		return event, nil
	}
	if err := r.scanner.Err(); err != nil {
		return model.Event{}, errors.Wrap(err, "read session stream")
	}
	return model.Event{}, io.EOF
}
