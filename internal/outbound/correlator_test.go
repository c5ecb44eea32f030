package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCorrelator_ResolvesMatchingRecord(t *testing.T) {
	t.Parallel()

	c := NewCorrelator()
	p, err := c.Register("tools-list-1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	go c.OnRecord(`{"jsonrpc":"2.0","id":"tools-list-1","result":{"tools":[]}}`)

	msg, err := p.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(msg.Result) != `{"tools":[]}` {
		t.Fatalf("unexpected result %s", msg.Result)
	}
	if c.Len() != 0 {
		t.Fatalf("expected no pending waiters, got %d", c.Len())
	}
}

func TestCorrelator_Timeout(t *testing.T) {
	t.Parallel()

	c := NewCorrelator()
	_, err := c.Await(context.Background(), "never", 20*time.Millisecond)
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected waiter to be removed after timeout")
	}

	// A late response after the deadline is ignored.
	c.OnRecord(`{"jsonrpc":"2.0","id":"never","result":{}}`)
}

func TestCorrelator_ContextCancel(t *testing.T) {
	t.Parallel()

	c := NewCorrelator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Await(ctx, "x", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCorrelator_DuplicateID(t *testing.T) {
	t.Parallel()

	c := NewCorrelator()
	if _, err := c.Register("dup"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := c.Register("dup"); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestCorrelator_IgnoresUnrelatedRecords(t *testing.T) {
	t.Parallel()

	c := NewCorrelator()
	p, err := c.Register("want")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, rec := range []string{
		`not json at all`,
		`{"jsonrpc":"2.0","method":"notifications/message","params":{}}`,
		`{"jsonrpc":"2.0","id":"other","result":{}}`,
		`{"jsonrpc":"1.0","id":"want","result":{}}`,
		`[1,2,3]`,
	} {
		c.OnRecord(rec)
	}
	if c.Len() != 1 {
		t.Fatalf("expected waiter to remain pending, got %d", c.Len())
	}

	c.OnRecord(`{"jsonrpc":"2.0","id":"want","error":{"code":-32000,"message":"boom"}}`)
	msg, err := p.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if msg.Error == nil || msg.Error.Message != "boom" {
		t.Fatalf("expected error envelope, got %+v", msg)
	}
}

func TestCorrelator_NumericIDDoesNotMatchString(t *testing.T) {
	t.Parallel()

	c := NewCorrelator()
	if _, err := c.Register("7"); err != nil {
		t.Fatalf("register: %v", err)
	}
	c.OnRecord(`{"jsonrpc":"2.0","id":7,"result":{}}`)
	if c.Len() != 1 {
		t.Fatalf("numeric id must not resolve a string waiter")
	}
}

func TestCorrelator_ResolvesOnceUnderRace(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		c := NewCorrelator()
		p, err := c.Register("race")
		if err != nil {
			t.Fatalf("register: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.OnRecord(`{"jsonrpc":"2.0","id":"race","result":{}}`)
		}()
		go func() {
			defer wg.Done()
			c.OnRecord(`{"jsonrpc":"2.0","id":"race","result":{"second":true}}`)
		}()

		msg, err := p.Wait(context.Background(), time.Millisecond)
		wg.Wait()

		switch {
		case err == nil && msg != nil:
		case errors.Is(err, ErrResponseTimeout) && msg == nil:
		default:
			t.Fatalf("iteration %d: inconsistent outcome msg=%v err=%v", i, msg, err)
		}
		if c.Len() != 0 {
			t.Fatalf("iteration %d: waiter leaked", i)
		}
	}
}

func TestCorrelator_CloseFailsWaiters(t *testing.T) {
	t.Parallel()

	c := NewCorrelator()
	p, err := c.Register("a")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	exit := errors.New("child exited")
	c.Close(exit)

	if _, err := p.Wait(context.Background(), time.Second); !errors.Is(err, exit) {
		t.Fatalf("expected close error, got %v", err)
	}
	if _, err := c.Register("b"); !errors.Is(err, exit) {
		t.Fatalf("expected register after close to fail, got %v", err)
	}
}

func TestPending_CancelDropsLateResponse(t *testing.T) {
	t.Parallel()

	c := NewCorrelator()
	p, err := c.Register("gone")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	p.Cancel()
	c.OnRecord(`{"jsonrpc":"2.0","id":"gone","result":{}}`)
	if c.Len() != 0 {
		t.Fatalf("expected no pending waiters")
	}
	if _, err := c.Register("gone"); err != nil {
		t.Fatalf("id should be reusable after cancel: %v", err)
	}
}
