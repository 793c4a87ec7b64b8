// Package extension negotiates the ut_metadata extension (BEP 9/10) used
// to fetch a torrent's info dictionary from a peer when starting from a
// magnet link.
package extension

import (
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/alexpiel/bittorrent-core/bencode"
	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/alexpiel/bittorrent-core/config"
	"github.com/alexpiel/bittorrent-core/peer"
)

// ut_metadata message sub-types (the "msg_type" field of the inner dict).
const (
	msgTypeRequest = 0
	msgTypeData    = 1
	msgTypeReject  = 2
)

// Handshake performs steps 1-3 of spec.md §4.5: discard the peer's
// BITFIELD, send our extension handshake, and read the peer's reply to
// learn its ut_metadata extension id.
func Handshake(rw io.ReadWriter) (peerUTMetadataID uint8, err error) {
	if _, err := peer.ReadExpected(rw, peer.Bitfield); err != nil {
		return 0, err
	}

	handshakePayload := buildHandshakePayload()
	if err := peer.Send(rw, peer.ExtensionMessage(handshakePayload)); err != nil {
		return 0, err
	}

	reply, err := peer.ReadExpected(rw, peer.Extension)
	if err != nil {
		return 0, err
	}
	return parseHandshakeReply(reply.Payload)
}

// buildHandshakePayload builds the extension-handshake payload: a leading
// 0x00 (the extension-handshake sub-message id) followed by the bencoded
// dictionary {"m": {"ut_metadata": 19}}.
func buildHandshakePayload() []byte {
	body := bencode.Encode(bencode.Value{Dict: map[string]bencode.Value{
		"m": {Dict: map[string]bencode.Value{
			"ut_metadata": {Int: config.UTMetadataExtensionID, IsInt: true},
		}},
	}})
	payload := make([]byte, 1+len(body))
	payload[0] = 0x00
	copy(payload[1:], body)
	return payload
}

// parseHandshakeReply reads the peer's extension-handshake reply: first
// byte must be 0x00, remainder is a bencoded dict carrying m.ut_metadata.
func parseHandshakeReply(payload []byte) (uint8, error) {
	if len(payload) == 0 || payload[0] != 0x00 {
		return 0, fmt.Errorf("extension handshake reply missing leading 0x00: %w", bterrors.ErrProtocolViolation)
	}
	v, err := bencode.Decode(payload[1:])
	if err != nil {
		return 0, err
	}
	if v.Dict == nil {
		return 0, fmt.Errorf("extension handshake reply is not a dictionary: %w", bterrors.ErrProtocolViolation)
	}
	m, ok := v.Dict["m"]
	if !ok || m.Dict == nil {
		return 0, fmt.Errorf("extension handshake reply missing m: %w", bterrors.ErrProtocolViolation)
	}
	utMetadata, ok := m.Dict["ut_metadata"]
	if !ok || !utMetadata.IsInt {
		return 0, fmt.Errorf("extension handshake reply missing m.ut_metadata: %w", bterrors.ErrProtocolViolation)
	}
	return uint8(utMetadata.Int), nil
}

// FetchMetadata performs steps 4-6 of spec.md §4.5: request piece 0 of the
// metadata, read the reply, and verify its hash against infoHash.
func FetchMetadata(rw io.ReadWriter, peerUTMetadataID uint8, infoHash [20]byte) ([]byte, error) {
	req := buildMetadataRequest(peerUTMetadataID)
	if err := peer.Send(rw, peer.ExtensionMessage(req)); err != nil {
		return nil, err
	}

	reply, err := peer.ReadExpected(rw, peer.Extension)
	if err != nil {
		return nil, err
	}
	if len(reply.Payload) == 0 || reply.Payload[0] != config.UTMetadataExtensionID {
		return nil, fmt.Errorf("metadata reply has wrong extension id: %w", bterrors.ErrProtocolViolation)
	}

	v, rest, err := bencode.DecodePrefix(reply.Payload[1:])
	if err != nil {
		return nil, err
	}
	if v.Dict == nil {
		return nil, fmt.Errorf("metadata reply is not a dictionary: %w", bterrors.ErrProtocolViolation)
	}
	msgType, ok := v.Dict["msg_type"]
	if !ok || !msgType.IsInt {
		return nil, fmt.Errorf("metadata reply missing msg_type: %w", bterrors.ErrProtocolViolation)
	}
	if msgType.Int == msgTypeReject {
		return nil, fmt.Errorf("peer rejected metadata request: %w", bterrors.ErrMetadataCorrupt)
	}
	if msgType.Int != msgTypeData {
		return nil, fmt.Errorf("unexpected metadata msg_type %d: %w", msgType.Int, bterrors.ErrProtocolViolation)
	}

	totalSize, ok := v.Dict["total_size"]
	if !ok || !totalSize.IsInt || int(totalSize.Int) != len(rest) {
		return nil, fmt.Errorf("metadata reply total_size does not match trailing bytes: %w", bterrors.ErrProtocolViolation)
	}

	if sha1.Sum(rest) != infoHash {
		return nil, fmt.Errorf("metadata info bytes hash mismatch: %w", bterrors.ErrMetadataCorrupt)
	}
	return rest, nil
}

// buildMetadataRequest builds {"msg_type": 0, "piece": 0} prefixed by the
// peer's ut_metadata extension id.
func buildMetadataRequest(peerUTMetadataID uint8) []byte {
	body := bencode.Encode(bencode.Value{Dict: map[string]bencode.Value{
		"msg_type": {Int: msgTypeRequest, IsInt: true},
		"piece":    {Int: 0, IsInt: true},
	}})
	payload := make([]byte, 1+len(body))
	payload[0] = peerUTMetadataID
	copy(payload[1:], body)
	return payload
}
