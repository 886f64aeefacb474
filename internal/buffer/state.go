package buffer

import (
	"fmt"
)

// State is where a descriptor is in its lifecycle. The state alone decides
// queue membership: Queued descriptors are on the pending queue, InFlight
// ones are owned by the sink, Done ones are on the complete queue.
type State int32

const (
	// No memory attached.
	Free State = iota

	// Allocated and owned by the client.
	Idle

	Queued
	InFlight
	Done
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Idle:
		return "idle"
	case Queued:
		return "queued"
	case InFlight:
		return "in-flight"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}
