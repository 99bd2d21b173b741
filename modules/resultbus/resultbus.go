// Package resultbus fans out republished match results to observers.
//
// The live match loop publishes only when a result changes meaningfully, so
// traffic is low, but observers (MQTT emitter, websocket clients) can still
// stall. Publish never blocks on them:
//   - DropNew: channel subscriber; a full buffer drops the incoming result
//   - DropOld: latest-only receiver; an unread result is replaced
//
// Usage:
//
//	bus := resultbus.New()
//	defer bus.Close()
//
//	ch := make(chan resultbus.Message, 16)
//	bus.Subscribe("mqtt", ch)
//
//	rx, _ := bus.SubscribeLatest("ws-1")
//	defer bus.Unsubscribe("ws-1")
//
//	bus.Publish(resultbus.Message{PoseID: id, Result: res})
package resultbus

import "github.com/e7canasta/orion-posematch/modules/resultbus/internal/bus"

// New creates a new result bus
func New() Bus {
	return bus.New()
}
