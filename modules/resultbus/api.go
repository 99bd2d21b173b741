package resultbus

import "github.com/e7canasta/orion-posematch/modules/resultbus/internal/bus"

// Public API - Re-export internal types as stable contract

// DropPolicy defines how the bus handles results when a subscriber cannot keep up
type DropPolicy = bus.DropPolicy

const (
	// DropNew drops incoming results if the subscriber's buffer is full
	DropNew = bus.DropNew
	// DropOld always accepts new results, replacing the unread one (latest-only)
	DropOld = bus.DropOld
)

// Message is one republished match result
type Message = bus.Message

// Receiver provides blocking/non-blocking access for DropOld subscribers
type Receiver = bus.Receiver

// SubscriberStats tracks distribution metrics
type SubscriberStats = bus.SubscriberStats

// Bus distributes results to multiple subscribers with configurable drop policies
type Bus = bus.Bus

// Public API errors - Re-export internal errors as stable contract
var (
	ErrBusClosed          = bus.ErrBusClosed
	ErrSubscriberExists   = bus.ErrSubscriberExists
	ErrSubscriberNotFound = bus.ErrSubscriberNotFound
	ErrNilChannel         = bus.ErrNilChannel
	ErrReceiverClosed     = bus.ErrReceiverClosed
)
