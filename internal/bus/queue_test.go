package bus

import (
	"context"
	"testing"

	"papersim/internal/model"
	"papersim/internal/model/enum"
)

func trade(ts int64) model.Event {
	return model.Event{Kind: enum.EventTrade, Trade: &model.Trade{Ts: ts}}
}

func TestQueueDeliversInOrder(t *testing.T) {
	q := NewQueue(8)
	for ts := int64(1); ts <= 3; ts++ {
		if err := q.TryPublish(trade(ts)); err != nil {
			t.Fatalf("publish %d: %v", ts, err)
		}
	}
	q.Close()

	var got []int64
	q.Run(context.Background(), func(e model.Event) {
		got = append(got, e.Timestamp())
	})

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("drained = %v, want [1 2 3]", got)
	}
}

func TestQueueFullAndClosed(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryPublish(trade(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.TryPublish(trade(2)); err != ErrQueueFull {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}

	q.Close()
	if err := q.TryPublish(trade(3)); err != ErrQueueClosed {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestQueueRunStopsOnContextCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx, func(model.Event) {
		t.Fatal("handler called after cancel")
	})
}
