// Package peer implements the per-peer connection: TCP connect, the base
// handshake, the length-prefixed message framer, and message constructors.
package peer

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/alexpiel/bittorrent-core/config"
)

// readDeadliner is implemented by net.Conn; ReadMessage bounds each read by
// config.MessageReadTimeout whenever the underlying reader supports it, and
// is a no-op against the in-memory readers used in tests.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Conn is the minimal duplex stream a piece download or extension exchange
// needs: the real implementation is a net.Conn, tests use an in-memory
// io.ReadWriter.
type Conn interface {
	io.Reader
	io.Writer
}

// MessageType is the single id byte of a framed peer message.
type MessageType uint8

// Message type ids, per spec.md §4.4.
const (
	Choke         MessageType = 0
	Unchoke       MessageType = 1
	Interested    MessageType = 2
	NotInterested MessageType = 3
	Have          MessageType = 4
	Bitfield      MessageType = 5
	Request       MessageType = 6
	Piece         MessageType = 7
	Cancel        MessageType = 8
	Extension     MessageType = 20
)

// Message is a single framed peer-wire message: msg_type plus payload.
type Message struct {
	Type    MessageType
	Payload []byte
}

// ReadMessage reads one message, transparently skipping keep-alives
// (a zero-length frame carries no type and no payload).
func ReadMessage(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	for {
		if d, ok := r.(readDeadliner); ok {
			d.SetReadDeadline(time.Now().Add(config.MessageReadTimeout))
		}
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, fmt.Errorf("reading message length: %w", bterrors.ErrPeerUnreachable)
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n == 0 {
			continue
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("reading message body: %w", bterrors.ErrPeerUnreachable)
		}
		return &Message{Type: MessageType(body[0]), Payload: body[1:]}, nil
	}
}

// ReadExpected reads one message and fails with ProtocolViolation unless
// it has the given type.
func ReadExpected(r io.Reader, want MessageType) (*Message, error) {
	msg, err := ReadMessage(r)
	if err != nil {
		return nil, err
	}
	if msg.Type != want {
		return nil, fmt.Errorf("expected message type %d, got %d: %w", want, msg.Type, bterrors.ErrProtocolViolation)
	}
	return msg, nil
}

// serialize produces the wire bytes for msg: a 4-byte big-endian length
// prefix covering the type byte and payload, then the type byte, then the
// payload.
func (msg Message) serialize() []byte {
	body := make([]byte, 4+1+len(msg.Payload))
	binary.BigEndian.PutUint32(body, uint32(1+len(msg.Payload)))
	body[4] = byte(msg.Type)
	copy(body[5:], msg.Payload)
	return body
}

// Send writes msg to w.
func Send(w io.Writer, msg Message) error {
	if _, err := w.Write(msg.serialize()); err != nil {
		return fmt.Errorf("writing message: %w", bterrors.ErrPeerUnreachable)
	}
	return nil
}

// InterestedMessage returns an INTERESTED message.
func InterestedMessage() Message {
	return Message{Type: Interested}
}

// RequestMessage returns a REQUEST message for a block.
func RequestMessage(index, begin, length int) Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload, uint32(index))
	binary.BigEndian.PutUint32(payload[4:], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:], uint32(length))
	return Message{Type: Request, Payload: payload}
}

// ParsePiece extracts (index, begin, block) from a PIECE message payload.
func ParsePiece(payload []byte) (index, begin int, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("piece payload too short: %w", bterrors.ErrProtocolViolation)
	}
	index = int(binary.BigEndian.Uint32(payload))
	begin = int(binary.BigEndian.Uint32(payload[4:]))
	block = payload[8:]
	return index, begin, block, nil
}

// ExtensionMessage wraps an extension-protocol payload (which already
// begins with the peer's local extension-message id byte) in the outer
// EXTENSION=20 framing.
func ExtensionMessage(payload []byte) Message {
	return Message{Type: Extension, Payload: payload}
}

