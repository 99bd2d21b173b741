package bus

import (
	"errors"
	"time"

	"github.com/e7canasta/orion-posematch/modules/similarity"
)

// Internal errors - mapped to public errors in resultbus package
var (
	ErrBusClosed          = errors.New("resultbus: bus is closed")
	ErrSubscriberExists   = errors.New("resultbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("resultbus: subscriber not found")
	ErrNilChannel         = errors.New("resultbus: nil channel provided")
	ErrReceiverClosed     = errors.New("resultbus: receiver is closed")
)

// DropPolicy defines how the bus handles results when a subscriber cannot keep up
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

func (p DropPolicy) String() string {
	switch p {
	case DropNew:
		return "drop_new"
	case DropOld:
		return "drop_old"
	default:
		return "unknown"
	}
}

// Message is one republished match result.
type Message struct {
	Seq         uint64            `json:"seq"`
	PoseID      string            `json:"poseId"`
	PublishedAt time.Time         `json:"publishedAt"`
	Result      similarity.Result `json:"result"`
}

// Receiver provides blocking/non-blocking access to the latest message
type Receiver interface {
	// Receive blocks until a message newer than the last one returned is
	// available. ok is false once the receiver is closed.
	Receive() (msg Message, ok bool)
	TryReceive() (Message, bool)
	Close()
}

// SubscriberStats tracks distribution metrics
type SubscriberStats struct {
	Policy  DropPolicy
	Sent    uint64
	Dropped uint64
}

// Bus distributes results to multiple subscribers
type Bus interface {
	Subscribe(id string, ch chan<- Message) error
	SubscribeLatest(id string) (Receiver, error)
	Publish(msg Message)
	Unsubscribe(id string) error
	Stats(id string) (*SubscriberStats, error)
	Subscribers() []string
	Close()
}
