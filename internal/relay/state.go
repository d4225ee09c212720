package relay

// State is the connection state of a relay client.
type State int

const (
	// Disconnected means no connection exists and none is being attempted.
	Disconnected State = iota
	// Connecting means the initial connection attempt is in flight.
	Connecting
	// Connected means the room subscription is live.
	Connected
	// Reconnecting means the connection dropped unexpectedly and the
	// client is retrying with backoff.
	Reconnecting
	// Failed means the retry budget is exhausted. Local editing stays
	// possible; queued operations are rebroadcast if Connect is called
	// again and succeeds.
	Failed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
