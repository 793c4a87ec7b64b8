package peer

import (
	"fmt"
	"io"
	"net"

	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/alexpiel/bittorrent-core/config"
	log "github.com/sirupsen/logrus"
)

// State is the per-peer connection progression.
type State int

const (
	Disconnected State = iota
	Handshaken
	BitfieldSeen
	Unchoked
)

// extensionReservedByte is byte index 5 of the 8 reserved handshake bytes;
// bit 0x10 there advertises support for the extension protocol (BEP 10).
const extensionReservedByte = 5
const extensionReservedBit = 0x10

// handshakeSize is 1 (pstrlen) + 19 (pstr) + 8 (reserved) + 20 (info_hash) + 20 (peer_id).
const handshakeSize = 1 + len(config.HandshakePstr) + 8 + 20 + 20

// Peer is one remote endpoint: its connection and the mutable state owned
// exclusively by the worker that claimed it.
type Peer struct {
	Endpoint string
	IP       net.IP
	Port     uint16

	PeerID            [20]byte
	Conn              net.Conn
	SupportsExtension bool
	UTMetadataID      uint8
	State             State
}

// New builds a Peer for the given endpoint in the Disconnected state.
func New(ip net.IP, port uint16) *Peer {
	return &Peer{
		Endpoint: net.JoinHostPort(ip.String(), fmt.Sprint(port)),
		IP:       ip,
		Port:     port,
		State:    Disconnected,
	}
}

// Connect opens a TCP connection and performs the base 68-byte handshake,
// validating the protocol string and info-hash before trusting the
// returned peer id (SPEC_FULL's supplemented handshake check).
func (p *Peer) Connect(infoHash [20]byte, peerID [20]byte) error {
	conn, err := net.DialTimeout("tcp", p.Endpoint, config.DialTimeout)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", p.Endpoint, bterrors.ErrPeerUnreachable)
	}

	if err := sendHandshake(conn, infoHash, peerID); err != nil {
		conn.Close()
		return err
	}

	remotePeerID, supportsExt, err := readHandshake(conn, infoHash)
	if err != nil {
		conn.Close()
		return err
	}

	p.Conn = conn
	p.PeerID = remotePeerID
	p.SupportsExtension = supportsExt
	p.State = Handshaken
	log.Debugf("handshaken with %s (extension=%v)", p.Endpoint, supportsExt)
	return nil
}

// Close releases the underlying socket, if any.
func (p *Peer) Close() {
	if p.Conn != nil {
		p.Conn.Close()
		p.Conn = nil
	}
	p.State = Disconnected
}

func sendHandshake(w io.Writer, infoHash, peerID [20]byte) error {
	buf := make([]byte, handshakeSize)
	buf[0] = byte(len(config.HandshakePstr))
	copy(buf[1:], config.HandshakePstr)
	// reserved bytes default to zero except the extension-protocol bit.
	buf[1+len(config.HandshakePstr)+extensionReservedByte] = extensionReservedBit
	copy(buf[1+len(config.HandshakePstr)+8:], infoHash[:])
	copy(buf[1+len(config.HandshakePstr)+8+20:], peerID[:])
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("sending handshake: %w", bterrors.ErrHandshakeFailed)
	}
	return nil
}

// readHandshake reads exactly handshakeSize bytes and validates the
// protocol string and info-hash before returning the peer id.
func readHandshake(r io.Reader, wantInfoHash [20]byte) (peerID [20]byte, supportsExt bool, err error) {
	buf := make([]byte, handshakeSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return peerID, false, fmt.Errorf("reading handshake: %w", bterrors.ErrHandshakeFailed)
	}

	pstrLen := int(buf[0])
	if pstrLen != len(config.HandshakePstr) {
		return peerID, false, fmt.Errorf("unexpected pstrlen %d: %w", pstrLen, bterrors.ErrHandshakeFailed)
	}
	pstr := string(buf[1 : 1+pstrLen])
	if pstr != config.HandshakePstr {
		return peerID, false, fmt.Errorf("unexpected protocol string %q: %w", pstr, bterrors.ErrHandshakeFailed)
	}

	reserved := buf[1+pstrLen : 1+pstrLen+8]
	gotInfoHash := buf[1+pstrLen+8 : 1+pstrLen+8+20]
	for i := range wantInfoHash {
		if gotInfoHash[i] != wantInfoHash[i] {
			return peerID, false, fmt.Errorf("info-hash mismatch in handshake: %w", bterrors.ErrHandshakeFailed)
		}
	}

	copy(peerID[:], buf[1+pstrLen+8+20:])
	supportsExt = reserved[extensionReservedByte]&extensionReservedBit != 0
	return peerID, supportsExt, nil
}
