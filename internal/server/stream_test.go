package server

import (
	"testing"
	"time"
)

func TestEventBroadcaster_ReplaysLastEvent(t *testing.T) {
	eb := NewEventBroadcaster()
	eb.Broadcast(ProgressEvent{JobID: "a", Iteration: 3})

	ch := eb.Subscribe("a")
	select {
	case ev := <-ch:
		if ev.Iteration != 3 {
			t.Errorf("replayed iteration %d, want 3", ev.Iteration)
		}
	case <-time.After(time.Second):
		t.Fatal("last event not replayed")
	}
	eb.Unsubscribe("a", ch)
}

func TestEventBroadcaster_FanOut(t *testing.T) {
	eb := NewEventBroadcaster()
	a := eb.Subscribe("job")
	b := eb.Subscribe("job")
	other := eb.Subscribe("other")

	eb.Broadcast(ProgressEvent{JobID: "job", Iteration: 1})

	for _, ch := range []chan ProgressEvent{a, b} {
		if ev := <-ch; ev.Iteration != 1 {
			t.Errorf("got iteration %d", ev.Iteration)
		}
	}
	select {
	case ev := <-other:
		t.Errorf("event leaked to other job: %+v", ev)
	default:
	}
}

func TestEventBroadcaster_DropsForSlowClient(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			eb.Broadcast(ProgressEvent{JobID: "job", Iteration: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffer holds %d events, want %d", len(ch), cap(ch))
	}
}

func TestEventBroadcaster_CleanupThenUnsubscribe(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job")

	eb.CleanupJob("job")
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cleanup")
	}
	// Must not close the channel a second time
	eb.Unsubscribe("job", ch)
}
