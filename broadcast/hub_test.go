package broadcast

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) string {
	t.Helper()
	select {
	case rec := <-sub.C():
		return rec
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s: timed out waiting for record", sub.ID())
		return ""
	}
}

func TestHub_FanOut(t *testing.T) {
	t.Parallel()

	h := NewHub()
	subs := make([]*Subscription, 5)
	for i := range subs {
		subs[i] = h.Subscribe()
	}
	if h.Len() != 5 {
		t.Fatalf("expected 5 subscribers, got %d", h.Len())
	}

	for i := 0; i < 3; i++ {
		h.Publish(fmt.Sprintf("rec-%d", i))
	}

	for _, sub := range subs {
		for i := 0; i < 3; i++ {
			if got, want := recv(t, sub), fmt.Sprintf("rec-%d", i); got != want {
				t.Fatalf("subscriber %s: got %q want %q", sub.ID(), got, want)
			}
		}
	}
}

func TestHub_UniqueIDs(t *testing.T) {
	t.Parallel()

	h := NewHub()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := h.Subscribe().ID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate subscriber id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestHub_UnsubscribeMidStream(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a, b, c := h.Subscribe(), h.Subscribe(), h.Subscribe()

	h.Publish("first")
	h.Unsubscribe(b.ID())
	h.Unsubscribe(b.ID()) // idempotent
	h.Unsubscribe("unknown")
	h.Publish("second")

	for _, sub := range []*Subscription{a, c} {
		if recv(t, sub) != "first" || recv(t, sub) != "second" {
			t.Fatalf("remaining subscriber %s missed records", sub.ID())
		}
	}

	if got := recv(t, b); got != "first" {
		t.Fatalf("removed subscriber: got %q", got)
	}
	select {
	case rec := <-b.C():
		t.Fatalf("removed subscriber received %q", rec)
	default:
	}
	select {
	case <-b.Done():
	default:
		t.Fatalf("removed subscriber should be done")
	}
}

func TestHub_DropsFullSubscriber(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var dropped []string
	h := NewHub(WithBuffer(2), WithDropHook(func(id string) {
		mu.Lock()
		dropped = append(dropped, id)
		mu.Unlock()
	}))

	slow := h.Subscribe()
	fast := h.Subscribe()

	for i := 0; i < 5; i++ {
		h.Publish(fmt.Sprintf("rec-%d", i))
		if i < 4 {
			recv(t, fast)
		}
	}

	if h.Len() != 1 {
		t.Fatalf("expected slow subscriber to be dropped, got %d subscribers", h.Len())
	}
	select {
	case <-slow.Done():
	default:
		t.Fatalf("slow subscriber should be done")
	}
	if got := recv(t, fast); got != "rec-4" {
		t.Fatalf("fast subscriber: got %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 1 || dropped[0] != slow.ID() {
		t.Fatalf("unexpected drop hook calls %v", dropped)
	}
}

func TestHub_ConcurrentSubscribePublish(t *testing.T) {
	t.Parallel()

	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := h.Subscribe()
			h.Unsubscribe(sub.ID())
		}()
		go func(i int) {
			defer wg.Done()
			h.Publish(fmt.Sprintf("rec-%d", i))
		}(i)
	}
	wg.Wait()
	if h.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Len())
	}
}
