// Package metainfo loads torrent metadata, either from a .torrent file or
// from a magnet URI, into a uniform TorrentData record.
package metainfo

import (
	"fmt"
	"net"
	"strconv"

	"github.com/alexpiel/bittorrent-core/bencode"
	"github.com/alexpiel/bittorrent-core/bterrors"
)

// SubFile is one entry of a (possibly multi-file) torrent's file list.
type SubFile struct {
	PathComponents []string
	Length         int64
}

// Peer is a discovered peer endpoint, before any connection is attempted.
type Peer struct {
	IP   net.IP
	Port uint16
}

// Endpoint returns the ip:port text form used for logging and the
// "peers" CLI command.
func (p Peer) Endpoint() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// TorrentData is the uniform record produced by loading a .torrent file or
// parsing a magnet URI. Fields documented as "magnet-deferred" are zero
// until the extension-protocol metadata fetch populates them.
type TorrentData struct {
	Tracker     string // may be empty for a magnet before metadata fetch
	InfoHash    [20]byte
	TotalLength int64      // magnet-deferred
	PieceLength int64      // magnet-deferred
	PieceHashes [][20]byte // magnet-deferred
	Files       []SubFile  // magnet-deferred
	Name        string     // magnet-deferred for a magnet with no dn
	Peers       []Peer
	IsMagnet    bool
	OutPath     string
}

// LoadTorrentFile decodes a .torrent file's bytes into a TorrentData.
func LoadTorrentFile(raw []byte) (*TorrentData, error) {
	v, err := bencode.Decode(raw)
	if err != nil {
		return nil, err
	}
	if v.Dict == nil {
		return nil, fmt.Errorf("metainfo is not a dictionary: %w", bterrors.ErrMalformed)
	}

	announce, ok := v.Dict["announce"]
	if !ok {
		return nil, fmt.Errorf("metainfo missing key announce: %w", bterrors.ErrMalformed)
	}

	info, ok := v.Dict["info"]
	if !ok || info.Dict == nil {
		return nil, fmt.Errorf("metainfo missing info dictionary: %w", bterrors.ErrMalformed)
	}

	infoHash, err := bencode.ExtractInfoHash(raw)
	if err != nil {
		return nil, err
	}

	pieceLength, ok := info.Dict["piece length"]
	if !ok || !pieceLength.IsInt || pieceLength.Int <= 0 {
		return nil, fmt.Errorf("info dictionary missing positive piece length: %w", bterrors.ErrMalformed)
	}

	piecesVal, ok := info.Dict["pieces"]
	if !ok {
		return nil, fmt.Errorf("info dictionary missing key pieces: %w", bterrors.ErrMalformed)
	}
	pieceHashes, err := bencode.SplitPieceHashes(piecesVal.Str)
	if err != nil {
		return nil, err
	}

	nameVal, ok := info.Dict["name"]
	if !ok {
		return nil, fmt.Errorf("info dictionary missing key name: %w", bterrors.ErrMalformed)
	}

	files, totalLength, err := parseFiles(info.Dict)
	if err != nil {
		return nil, err
	}

	return &TorrentData{
		Tracker:     announce.Text(),
		InfoHash:    infoHash,
		TotalLength: totalLength,
		PieceLength: pieceLength.Int,
		PieceHashes: pieceHashes,
		Files:       files,
		Name:        nameVal.Text(),
		IsMagnet:    false,
	}, nil
}

// parseFiles resolves the single-file ("length") or multi-file ("files")
// form of the info dictionary into a SubFile list and the total length.
func parseFiles(info map[string]bencode.Value) ([]SubFile, int64, error) {
	if lengthVal, ok := info["length"]; ok {
		if !lengthVal.IsInt || lengthVal.Int < 0 {
			return nil, 0, fmt.Errorf("info.length is not a non-negative integer: %w", bterrors.ErrMalformed)
		}
		return []SubFile{{PathComponents: nil, Length: lengthVal.Int}}, lengthVal.Int, nil
	}

	filesVal, ok := info["files"]
	if !ok || filesVal.List == nil {
		return nil, 0, fmt.Errorf("info dictionary has neither length nor files: %w", bterrors.ErrMalformed)
	}

	var total int64
	files := make([]SubFile, len(filesVal.List))
	for i, entry := range filesVal.List {
		if entry.Dict == nil {
			return nil, 0, fmt.Errorf("files[%d] is not a dictionary: %w", i, bterrors.ErrMalformed)
		}
		lengthVal, ok := entry.Dict["length"]
		if !ok || !lengthVal.IsInt || lengthVal.Int < 0 {
			return nil, 0, fmt.Errorf("files[%d] missing non-negative length: %w", i, bterrors.ErrMalformed)
		}
		pathVal, ok := entry.Dict["path"]
		if !ok || pathVal.List == nil || len(pathVal.List) == 0 {
			return nil, 0, fmt.Errorf("files[%d] missing path: %w", i, bterrors.ErrMalformed)
		}
		components := make([]string, len(pathVal.List))
		for j, p := range pathVal.List {
			components[j] = p.Text()
		}
		files[i] = SubFile{PathComponents: components, Length: lengthVal.Int}
		total += lengthVal.Int
	}
	return files, total, nil
}
