// Package wire defines the envelope exchanged through the relay. The
// relay itself never inspects payloads; peers decode them by tag. The
// envelope is version-stamped so new message kinds can be added without
// breaking older clients: an unknown type or a newer version is skipped,
// not crashed on.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the current envelope version.
const Version = 1

// ErrMalformed is returned when a frame cannot be decoded at all.
var ErrMalformed = errors.New("malformed wire message")

// Type identifies the kind of message inside an envelope.
type Type string

const (
	// TypeHello is sent by the relay once the room subscription is in
	// place; clients block on it during connect.
	TypeHello Type = "hello"
	// TypeOp carries a serialized document operation.
	TypeOp Type = "op"
	// TypePresence carries a client's full awareness state.
	TypePresence Type = "presence"
	// TypeLeave is synthesized by the relay when a client disconnects.
	TypeLeave Type = "leave"
	// TypePing is a liveness message; the relay refreshes the sender's
	// deadline and does not forward it.
	TypePing Type = "ping"
)

// Envelope frames every message that crosses the relay.
type Envelope struct {
	V       int             `json:"v"`
	Type    Type            `json:"type"`
	Room    string          `json:"room,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Known reports whether the envelope can be interpreted by this version
// of the protocol. Unknown envelopes are ignorable, never fatal.
func (e Envelope) Known() bool {
	if e.V > Version {
		return false
	}

	switch e.Type {
	case TypeHello, TypeOp, TypePresence, TypeLeave, TypePing:
		return true
	default:
		return false
	}
}

// New creates an envelope with the given payload marshaled to JSON.
func New(t Type, room, sender string, payload any) (Envelope, error) {
	env := Envelope{V: Version, Type: t, Room: room, Sender: sender}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
		}

		env.Payload = raw
	}

	return env, nil
}

// Encode serializes an envelope for transmission.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	return data, nil
}

// Decode parses a frame into an envelope. The payload stays raw; callers
// unmarshal it once they have dispatched on Type.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return env, nil
}
