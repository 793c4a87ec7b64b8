package metainfo

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/alexpiel/bittorrent-core/bterrors"
)

// ParseMagnet parses a magnet URI of the form
// magnet:?xt=urn:btih:<40-hex>&dn=<name>&tr=<url> into a TorrentData whose
// magnet-deferred fields remain zero until the extension protocol fetch
// (see the extension package) populates them.
func ParseMagnet(raw string) (*TorrentData, error) {
	if !strings.HasPrefix(raw, "magnet:?") {
		return nil, fmt.Errorf("magnet URI must start with magnet:?: %w", bterrors.ErrMalformed)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing magnet URI: %w", bterrors.ErrMalformed)
	}
	query := u.Query()

	infoHash, err := parseInfoHash(query)
	if err != nil {
		return nil, err
	}

	name := ""
	if dn := query.Get("dn"); dn != "" {
		name = dn
	}

	tracker := ""
	if tr, ok := query["tr"]; ok && len(tr) > 0 {
		tracker = tr[0]
	}

	return &TorrentData{
		Tracker:  tracker,
		InfoHash: infoHash,
		Name:     name,
		IsMagnet: true,
	}, nil
}

// parseInfoHash decodes the required xt=urn:btih:<hex> parameter. Only the
// 40-character hex form is accepted; this is what spec.md names, so the
// base32 form is left unsupported rather than silently reinterpreted.
func parseInfoHash(query url.Values) ([20]byte, error) {
	var hash [20]byte

	xt := query.Get("xt")
	if xt == "" {
		return hash, fmt.Errorf("magnet link missing xt parameter: %w", bterrors.ErrMalformed)
	}
	const prefix = "urn:btih:"
	if !strings.HasPrefix(xt, prefix) {
		return hash, fmt.Errorf("unsupported xt format %q: %w", xt, bterrors.ErrMalformed)
	}
	encoded := strings.TrimPrefix(xt, prefix)
	if len(encoded) != 40 {
		return hash, fmt.Errorf("info hash hex has length %d, want 40: %w", len(encoded), bterrors.ErrMalformed)
	}
	decoded, err := hex.DecodeString(encoded)
	if err != nil {
		return hash, fmt.Errorf("decoding info hash hex: %w", bterrors.ErrMalformed)
	}
	copy(hash[:], decoded)
	return hash, nil
}
