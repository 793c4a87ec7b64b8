// Package tracker issues the single HTTP GET announce call and decodes
// the compact peer list from the response.
package tracker

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/alexpiel/bittorrent-core/bencode"
	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/alexpiel/bittorrent-core/config"
	"github.com/alexpiel/bittorrent-core/metainfo"
	log "github.com/sirupsen/logrus"
)

// PeerID is the fixed 20-byte client identifier announced to trackers and
// sent in every handshake.
var PeerID = peerID()

func peerID() [20]byte {
	var id [20]byte
	copy(id[:], config.PeerIDPrefix)
	for i := len(config.PeerIDPrefix); i < 20; i++ {
		id[i] = '0' + byte(i%10)
	}
	return id
}

// Announce performs a single HTTP GET to trackerURL and returns the decoded
// peer list. left is the bytes remaining to download; for a magnet
// bootstrap before metadata arrives, pass config.MagnetBootstrapLeft.
func Announce(trackerURL string, infoHash [20]byte, left int64) ([]metainfo.Peer, error) {
	announceURL := buildAnnounceURL(trackerURL, infoHash, left)

	client := &http.Client{Timeout: config.TrackerTimeout}
	resp, err := client.Get(announceURL)
	if err != nil {
		return nil, fmt.Errorf("announcing to tracker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker returned status %s: %w", resp.Status, bterrors.ErrTrackerRejected)
	}

	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if readErr != nil {
			break
		}
	}

	v, err := bencode.Decode(body)
	if err != nil {
		return nil, err
	}
	if v.Dict == nil {
		return nil, fmt.Errorf("tracker response is not a dictionary: %w", bterrors.ErrMalformed)
	}

	if reason, ok := v.Dict["failure reason"]; ok {
		return nil, fmt.Errorf("%s: %w", reason.Text(), bterrors.ErrTrackerRejected)
	}

	peersVal, ok := v.Dict["peers"]
	if !ok {
		return nil, fmt.Errorf("tracker response missing peers: %w", bterrors.ErrMalformed)
	}

	peers, err := decodeCompactPeers(peersVal.Str)
	if err != nil {
		return nil, err
	}
	log.Debugf("tracker %s returned %d peers", trackerURL, len(peers))
	return peers, nil
}

// buildAnnounceURL builds the GET URL. The raw info-hash and peer-id are
// percent-encoded byte-by-byte (not via url.Values.Encode, which does not
// raw-percent-encode arbitrary non-printable bytes the way a 20-byte hash
// needs) per SPEC_FULL's supplemented tracker behavior.
func buildAnnounceURL(trackerURL string, infoHash [20]byte, left int64) string {
	sep := "?"
	if strings.Contains(trackerURL, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(trackerURL)
	b.WriteString(sep)
	b.WriteString("info_hash=")
	b.WriteString(percentEncodeBytes(infoHash[:]))
	b.WriteString("&peer_id=")
	b.WriteString(percentEncodeBytes(PeerID[:]))
	b.WriteString("&port=")
	b.WriteString(strconv.Itoa(config.ListenPort))
	b.WriteString("&uploaded=0&downloaded=0&left=")
	b.WriteString(strconv.FormatInt(left, 10))
	b.WriteString("&compact=1")
	return b.String()
}

// percentEncodeBytes encodes every byte as %XX uppercase hex, the scheme a
// raw 20-byte hash needs regardless of which bytes happen to be printable.
func percentEncodeBytes(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw) * 3)
	for _, c := range raw {
		b.WriteByte('%')
		b.WriteString(fmt.Sprintf("%02X", c))
	}
	return b.String()
}

// decodeCompactPeers splits a BEP 23 compact peer string (6 bytes each: 4
// big-endian IPv4 octets, 2 big-endian port) into a peer list.
func decodeCompactPeers(raw []byte) ([]metainfo.Peer, error) {
	const entrySize = 6
	if len(raw)%entrySize != 0 {
		return nil, fmt.Errorf("compact peer list length %d not a multiple of %d: %w", len(raw), entrySize, bterrors.ErrMalformed)
	}
	peers := make([]metainfo.Peer, len(raw)/entrySize)
	for i := range peers {
		off := i * entrySize
		ip := net.IPv4(raw[off], raw[off+1], raw[off+2], raw[off+3])
		port := binary.BigEndian.Uint16(raw[off+4 : off+6])
		peers[i] = metainfo.Peer{IP: ip, Port: port}
	}
	return peers, nil
}
