// Package ipc carries process messages between the host and the renderer.
//
// A Message is a name plus a CBOR encoded payload struct. Application values
// travel inside payloads as the JSON projection produced by the value
// codec, so the CBOR layer only ever sees flat records.
package ipc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Message is one named process message.
type Message struct {
	Name string          `cbor:"1,keyasint"`
	Args cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// Payload is implemented by every message payload struct.
type Payload interface {
	MessageName() string
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ipc: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Encode wraps p in a Message named after it.
func Encode(p Payload) (*Message, error) {
	args, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal %s: %w", p.MessageName(), err)
	}
	return &Message{Name: p.MessageName(), Args: args}, nil
}

// Decode unpacks the payload of m into a T.
func Decode[T Payload](m *Message) (T, error) {
	var p T
	if m.Name != p.MessageName() {
		return p, fmt.Errorf("ipc: decode %s as %s", m.Name, p.MessageName())
	}
	if err := cbor.Unmarshal(m.Args, &p); err != nil {
		return p, fmt.Errorf("ipc: unmarshal %s: %w", m.Name, err)
	}
	return p, nil
}

// MarshalMessage serializes m for the wire.
func MarshalMessage(m *Message) ([]byte, error) {
	return encMode.Marshal(m)
}

// UnmarshalMessage deserializes a Message from CBOR bytes.
func UnmarshalMessage(data []byte) (*Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal message: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("ipc: message without name")
	}
	return &m, nil
}
