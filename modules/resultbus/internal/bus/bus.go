package bus

import (
	"slices"
	"sync"
	"sync/atomic"
)

type subscriberHolder struct {
	id     string
	policy DropPolicy

	sent    atomic.Uint64
	dropped atomic.Uint64

	// For DropNew policy
	ch chan<- Message

	// For DropOld policy
	latest *latestHolder
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriberHolder
	seq         atomic.Uint64
	closed      bool
}

// New creates a new result bus instance
func New() Bus {
	return &bus{
		subscribers: make(map[string]*subscriberHolder),
	}
}

// Subscribe registers a channel with DropNew policy
func (b *bus) Subscribe(id string, ch chan<- Message) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriberHolder{id: id, policy: DropNew, ch: ch}
	return nil
}

// SubscribeLatest registers a subscriber with DropOld policy
func (b *bus) SubscribeLatest(id string) (Receiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	h := &subscriberHolder{id: id, policy: DropOld, latest: newLatestHolder()}
	b.subscribers[id] = h
	return h.latest, nil
}

// Publish stamps msg with the next sequence number and distributes it.
// Never blocks. A closed bus drops the message silently.
func (b *bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	msg.Seq = b.seq.Add(1)

	for _, h := range b.subscribers {
		switch h.policy {
		case DropNew:
			select {
			case h.ch <- msg:
				h.sent.Add(1)
			default:
				h.dropped.Add(1)
			}
		case DropOld:
			// An unread message being replaced counts as a drop.
			if h.latest.set(msg) {
				h.dropped.Add(1)
			}
			h.sent.Add(1)
		}
	}
}

// Unsubscribe removes a subscriber
func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	h, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if h.latest != nil {
		h.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns statistics for a subscriber
func (b *bus) Stats(id string) (*SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	h, exists := b.subscribers[id]
	if !exists {
		return nil, ErrSubscriberNotFound
	}
	return &SubscriberStats{
		Policy:  h.policy,
		Sent:    h.sent.Load(),
		Dropped: h.dropped.Load(),
	}, nil
}

// Subscribers returns the registered ids, sorted
func (b *bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close shuts down the bus and all DropOld receivers.
// DropNew channels are owned by their subscribers and are not closed.
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, h := range b.subscribers {
		if h.latest != nil {
			h.latest.Close()
		}
	}
	b.subscribers = nil
}

// latestHolder implements Receiver for DropOld policy
type latestHolder struct {
	mu       sync.Mutex
	cond     *sync.Cond
	msg      *Message
	lastRead uint64
	closed   bool
}

func newLatestHolder() *latestHolder {
	h := &latestHolder{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// set stores msg and reports whether an unread message was overwritten.
func (h *latestHolder) set(msg Message) (overwrote bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	overwrote = h.msg != nil && h.msg.Seq > h.lastRead
	h.msg = &msg
	h.cond.Broadcast()
	return overwrote
}

// Receive blocks until an unread message is available
func (h *latestHolder) Receive() (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for !h.closed && (h.msg == nil || h.msg.Seq <= h.lastRead) {
		h.cond.Wait()
	}
	if h.closed {
		return Message{}, false
	}
	h.lastRead = h.msg.Seq
	return *h.msg, true
}

// TryReceive returns the latest message without blocking, read or not
func (h *latestHolder) TryReceive() (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.msg == nil {
		return Message{}, false
	}
	h.lastRead = h.msg.Seq
	return *h.msg, true
}

// Close shuts down the receiver and wakes blocked readers
func (h *latestHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.cond.Broadcast()
}
