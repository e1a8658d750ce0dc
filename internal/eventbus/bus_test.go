package eventbus

import (
	"testing"
)

func TestSubscribePrefixFilter(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	cycles, unsubCycles := b.Subscribe(4, CyclePrefix)
	defer unsubCycles()

	b.Publish(Event{Type: SubscriberAdded, Data: int64(1)})
	b.Publish(Event{Type: CycleFinished})

	if got := (<-all).Type; got != SubscriberAdded {
		t.Fatalf("all[0]=%q", got)
	}
	if got := (<-all).Type; got != CycleFinished {
		t.Fatalf("all[1]=%q", got)
	}
	e := <-cycles
	if e.Type != CycleFinished || e.Time.IsZero() {
		t.Fatalf("cycles got %+v", e)
	}
	select {
	case extra := <-cycles:
		t.Fatalf("filtered subscriber got %+v", extra)
	default:
	}
}

func TestSlowSubscriberDropsAndUnsubscribeCloses(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: CycleStarted})
	b.Publish(Event{Type: CycleFinished})

	if d := b.(Stats).Dropped(); d != 1 {
		t.Fatalf("dropped=%d", d)
	}
	unsub()
	unsub()
	if e, ok := <-ch; !ok || e.Type != CycleStarted {
		t.Fatalf("buffered event lost: %+v ok=%v", e, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed")
	}
	b.Publish(Event{Type: CycleStarted})
}
