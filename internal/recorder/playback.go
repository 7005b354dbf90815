package recorder

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/yanun0323/errors"

	"papersim/internal/model"
)

// PlaybackConfig controls session playback behavior.
type PlaybackConfig struct {
	Path string
	// Speed scales the recorded inter-event gaps. 0 or negative replays as
	// fast as possible.
	Speed float64
}

// Clock allows deterministic playback control.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playback replays a recorded session in file order, pacing events by
// their recorded timestamps.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	if cfg.Path == "" {
		return nil, errors.New("playback path is empty")
	}
	return &Playback{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the clock implementation.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Run replays the session and calls the handler for each event. A handler
// error stops the replay.
func (p *Playback) Run(ctx context.Context, handler func(model.Event) error) error {
	if handler == nil {
		return errors.New("playback handler is nil")
	}

	file, err := os.Open(p.cfg.Path)
	if err != nil {
		return errors.Wrap(err, "open session file").With("path", p.cfg.Path)
	}
	defer file.Close()

	reader := NewReader(file)
	var prevTS int64
	for {
		event, err := reader.Next()
		if err != nil {
			// Next returns bare io.EOF at end of stream
			if err == io.EOF {
				return nil
			}
			return err
		}

		if err := p.pace(ctx, event.Timestamp(), &prevTS); err != nil {
			return err
		}
		if err := handler(event); err != nil {
			return errors.Wrap(err, "playback handler")
		}
	}
}

func (p *Playback) pace(ctx context.Context, ts int64, prevTS *int64) error {
	if p.cfg.Speed <= 0 {
		return nil
	}
	if *prevTS > 0 && ts > *prevTS {
		gap := time.Duration(float64(ts-*prevTS) * float64(time.Millisecond) / p.cfg.Speed)
		if err := p.clock.Sleep(ctx, gap); err != nil {
			return err
		}
	}
	if ts > 0 {
		*prevTS = ts
	}
	return nil
}
