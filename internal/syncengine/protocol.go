// Package syncengine synchronizes the local document with a peer over a
// websocket connection, exchanging version vectors and change batches
// until both sides hold the same history.
package syncengine

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolVersion is the wire protocol revision. Peers with a different
// version cannot sync; the mismatch is reported as a ProtocolError.
const ProtocolVersion = "1"

// MessageType discriminates wire messages.
type MessageType string

const (
	// MessageJoin opens a session: each side announces its ephemeral
	// peer id, protocol version, and document id.
	MessageJoin MessageType = "join"
	// MessageSync carries one round of the exchange: the sender's
	// current sync state plus the changes the receiver is known to lack.
	MessageSync MessageType = "sync"
	// MessageEphemeral is transient peer chatter (presence, cursors).
	// Receivers ignore it; it never touches the document.
	MessageEphemeral MessageType = "ephemeral"
)

// Message is the single wire envelope, encoded as CBOR in binary
// websocket frames.
type Message struct {
	Type            MessageType `cbor:"1,keyasint"`
	PeerID          string      `cbor:"2,keyasint"`
	ProtocolVersion string      `cbor:"3,keyasint"`
	DocumentID      string      `cbor:"4,keyasint,omitempty"`
	SyncState       []byte      `cbor:"5,keyasint,omitempty"`
	Changes         [][]byte    `cbor:"6,keyasint,omitempty"`
}

// EncodeMessage serializes a message for the wire.
func EncodeMessage(m *Message) ([]byte, error) {
	return cbor.Marshal(m)
}

// DecodeMessage parses a wire frame.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("undecodable frame: %v", err)}
	}
	if m.Type == "" {
		return nil, &ProtocolError{Reason: "frame missing message type"}
	}
	return &m, nil
}

// ProtocolError reports a peer speaking the protocol wrong: bad frame,
// unexpected message type, or version mismatch. Protocol errors end the
// session and are never retried.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "sync protocol error: " + e.Reason
}

// IsProtocolError reports whether err is a ProtocolError anywhere in its
// chain.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
