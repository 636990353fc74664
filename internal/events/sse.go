package events

import (
	"sync/atomic"
	"time"

	"github.com/kelindar/event"
)

// terminalSendTimeout bounds how long a full channel may hold up delivery of
// a terminal job state.
const terminalSendTimeout = time.Second

type terminal interface {
	IsTerminal() bool
}

// SubscribeToChannel forwards events of type T to ch for select-loop
// consumers such as SSE handlers. When ch is full, ordinary events are
// dropped; terminal job states wait up to terminalSendTimeout so a client
// still learns that a job finished. The returned function unsubscribes and
// reports how many events were dropped.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() int64 {
	var dropped atomic.Int64
	unsub := event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
			return
		default:
		}
		if t, ok := any(e).(terminal); ok && t.IsTerminal() {
			timer := time.NewTimer(terminalSendTimeout)
			defer timer.Stop()
			select {
			case ch <- e:
				return
			case <-timer.C:
			}
		}
		dropped.Add(1)
	})
	return func() int64 {
		unsub()
		return dropped.Load()
	}
}
