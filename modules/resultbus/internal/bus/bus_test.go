package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-posematch/modules/similarity"
)

func msg(overall float64) Message {
	return Message{PoseID: "p1", Result: similarity.Result{Overall: overall}}
}

// TestBasicPublishSubscribe verifies basic functionality.
func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan Message, 10)
	if err := b.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Publish(msg(81))

	select {
	case got := <-ch:
		if got.Seq != 1 {
			t.Errorf("Expected seq 1, got %d", got.Seq)
		}
		if got.Result.Overall != 81 {
			t.Errorf("Expected overall 81, got %v", got.Result.Overall)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for result")
	}
}

// TestNonBlockingPublish verifies Publish never blocks on a full channel.
func TestNonBlockingPublish(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan Message, 1)
	b.Subscribe("slow", ch)

	done := make(chan struct{})
	go func() {
		b.Publish(msg(1)) // fills buffer
		b.Publish(msg(2)) // dropped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	if got := <-ch; got.Result.Overall != 1 {
		t.Errorf("Expected first result, got %v", got.Result.Overall)
	}

	stats, err := b.Stats("slow")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Sent != 1 || stats.Dropped != 1 {
		t.Errorf("Expected 1 sent / 1 dropped, got %d / %d", stats.Sent, stats.Dropped)
	}
}

// TestLatestReceiverKeepsNewest verifies DropOld semantics.
//
// Scenario:
//  1. Publish 3 results without reading
//  2. Receive returns only the newest
//  3. Receive then blocks until a 4th result arrives
func TestLatestReceiverKeepsNewest(t *testing.T) {
	b := New()
	defer b.Close()

	rx, err := b.SubscribeLatest("ws")
	if err != nil {
		t.Fatalf("SubscribeLatest failed: %v", err)
	}

	b.Publish(msg(10))
	b.Publish(msg(20))
	b.Publish(msg(30))

	got, ok := rx.Receive()
	if !ok || got.Result.Overall != 30 {
		t.Fatalf("Expected newest result 30, got %v (ok=%v)", got.Result.Overall, ok)
	}

	stats, _ := b.Stats("ws")
	if stats.Sent != 3 || stats.Dropped != 2 {
		t.Errorf("Expected 3 sent / 2 replaced, got %d / %d", stats.Sent, stats.Dropped)
	}

	received := make(chan Message, 1)
	go func() {
		m, _ := rx.Receive()
		received <- m
	}()

	select {
	case <-received:
		t.Fatal("Receive returned an already-read result")
	case <-time.After(50 * time.Millisecond):
	}

	b.Publish(msg(40))

	select {
	case m := <-received:
		if m.Result.Overall != 40 {
			t.Errorf("Expected 40, got %v", m.Result.Overall)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake on publish")
	}

	t.Logf("✅ DropOld receiver delivers latest only")
}

// TestUnsubscribeUnblocksReceiver verifies Receive returns ok=false after the
// subscriber is removed.
func TestUnsubscribeUnblocksReceiver(t *testing.T) {
	b := New()
	defer b.Close()

	rx, _ := b.SubscribeLatest("ws")

	done := make(chan bool, 1)
	go func() {
		_, ok := rx.Receive()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	if err := b.Unsubscribe("ws"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	select {
	case ok := <-done:
		if ok {
			t.Error("Expected ok=false after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive still blocked after unsubscribe")
	}
}

func TestSubscribeErrors(t *testing.T) {
	b := New()

	ch := make(chan Message, 1)
	if err := b.Subscribe("a", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("a", ch); err != ErrSubscriberExists {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
	if _, err := b.SubscribeLatest("a"); err != ErrSubscriberExists {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
	if err := b.Subscribe("b", nil); err != ErrNilChannel {
		t.Errorf("Expected ErrNilChannel, got %v", err)
	}
	if err := b.Unsubscribe("missing"); err != ErrSubscriberNotFound {
		t.Errorf("Expected ErrSubscriberNotFound, got %v", err)
	}

	b.Close()
	b.Close() // idempotent

	if err := b.Subscribe("c", ch); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
	b.Publish(msg(1)) // no panic after close
}

// TestSequenceMonotonic verifies concurrent publishers get unique sequence numbers.
func TestSequenceMonotonic(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan Message, 1000)
	b.Subscribe("all", ch)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(msg(float64(j)))
			}
		}()
	}
	wg.Wait()
	close(ch)

	seen := make(map[uint64]bool)
	for m := range ch {
		if seen[m.Seq] {
			t.Fatalf("Duplicate seq %d", m.Seq)
		}
		seen[m.Seq] = true
	}
	if len(seen) != 500 {
		t.Errorf("Expected 500 results, got %d", len(seen))
	}
}

func TestSubscribersSorted(t *testing.T) {
	b := New()
	defer b.Close()

	b.SubscribeLatest("ws-2")
	b.Subscribe("mqtt", make(chan Message, 1))
	b.SubscribeLatest("ws-1")

	got := b.Subscribers()
	want := []string{"mqtt", "ws-1", "ws-2"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
		}
	}
}
