package extension

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/alexpiel/bittorrent-core/config"
	"github.com/alexpiel/bittorrent-core/peer"
	"github.com/stretchr/testify/require"
)

// loopback is a ReadWriter whose reads come from a fixed pre-scripted
// buffer (simulating what the peer would send) and whose writes are
// captured for assertions.
type loopback struct {
	in  *bytes.Buffer
	out bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }

func TestBuildHandshakePayload(t *testing.T) {
	payload := buildHandshakePayload()
	require.Equal(t, byte(0x00), payload[0])
}

func TestParseHandshakeReply(t *testing.T) {
	payload := append([]byte{0x00}, []byte("d1:md11:ut_metadatai7eee")...)
	id, err := parseHandshakeReply(payload)
	require.NoError(t, err)
	require.Equal(t, uint8(7), id)
}

func TestParseHandshakeReplyRejectsMissingLeadByte(t *testing.T) {
	_, err := parseHandshakeReply([]byte("d1:md11:ut_metadatai7eee"))
	require.Error(t, err)
	require.ErrorIs(t, err, bterrors.ErrProtocolViolation)
}

func TestHandshakeDiscardsBitfieldAndReadsReply(t *testing.T) {
	var in bytes.Buffer
	require.NoError(t, peer.Send(&in, peer.Message{Type: peer.Bitfield, Payload: []byte{0xff}}))
	require.NoError(t, peer.Send(&in, peer.Message{
		Type:    peer.Extension,
		Payload: append([]byte{0x00}, []byte("d1:md11:ut_metadatai3eee")...),
	}))

	lb := &loopback{in: &in}
	id, err := Handshake(lb)
	require.NoError(t, err)
	require.Equal(t, uint8(3), id)
}

func TestFetchMetadataVerifiesHash(t *testing.T) {
	info := []byte("d6:lengthi1e4:name1:ae")
	hash := sha1.Sum(info)

	envelope := []byte("d8:msg_typei1e5:piecei0e10:total_size" + "i" + itoa(len(info)) + "ee")
	var in bytes.Buffer
	payload := append([]byte{config.UTMetadataExtensionID}, envelope...)
	payload = append(payload, info...)
	require.NoError(t, peer.Send(&in, peer.Message{Type: peer.Extension, Payload: payload}))

	lb := &loopback{in: &in}
	got, err := FetchMetadata(lb, 5, hash)
	require.NoError(t, err)
	require.Equal(t, info, got)
}

func TestFetchMetadataRejectsHashMismatch(t *testing.T) {
	info := []byte("d6:lengthi1e4:name1:ae")
	var wrongHash [20]byte

	envelope := []byte("d8:msg_typei1e5:piecei0e10:total_size" + "i" + itoa(len(info)) + "ee")
	var in bytes.Buffer
	payload := append([]byte{config.UTMetadataExtensionID}, envelope...)
	payload = append(payload, info...)
	require.NoError(t, peer.Send(&in, peer.Message{Type: peer.Extension, Payload: payload}))

	lb := &loopback{in: &in}
	_, err := FetchMetadata(lb, 5, wrongHash)
	require.Error(t, err)
	require.ErrorIs(t, err, bterrors.ErrMetadataCorrupt)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
