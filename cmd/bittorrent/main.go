// Command bittorrent is the CLI surface of the client: decode/info/peers/
// handshake for .torrent files, magnet_* equivalents for magnet URIs, and
// download/download_piece for actually fetching content.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alexpiel/bittorrent-core/bencode"
	"github.com/alexpiel/bittorrent-core/config"
	"github.com/alexpiel/bittorrent-core/extension"
	"github.com/alexpiel/bittorrent-core/metainfo"
	"github.com/alexpiel/bittorrent-core/peer"
	"github.com/alexpiel/bittorrent-core/scheduler"
	"github.com/alexpiel/bittorrent-core/tracker"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetOutput(os.Stderr)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: bittorrent <command> [args...]")
		os.Exit(1)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	switch command {
	case "decode":
		return cmdDecode(args)
	case "info":
		return cmdInfo(args)
	case "peers":
		return cmdPeers(args)
	case "handshake":
		return cmdHandshake(args)
	case "download_piece":
		return cmdDownloadPiece(args)
	case "download":
		return cmdDownload(args)
	case "magnet_parse":
		return cmdMagnetParse(args)
	case "magnet_handshake":
		return cmdMagnetHandshake(args)
	case "magnet_info":
		return cmdMagnetInfo(args)
	case "magnet_download_piece":
		return cmdMagnetDownloadPiece(args)
	case "magnet_download":
		return cmdMagnetDownload(args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdDecode(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: decode <bencoded>")
	}
	v, err := bencode.Decode([]byte(args[0]))
	if err != nil {
		return err
	}
	out, err := json.Marshal(toJSON(v))
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// toJSON converts a bencode.Value into a plain Go value json.Marshal can
// render the way the CLI commands expect: strings, numbers, []any, map.
func toJSON(v bencode.Value) interface{} {
	switch {
	case v.Dict != nil:
		m := make(map[string]interface{}, len(v.Dict))
		for k, child := range v.Dict {
			m[k] = toJSON(child)
		}
		return m
	case v.List != nil:
		out := make([]interface{}, len(v.List))
		for i, child := range v.List {
			out[i] = toJSON(child)
		}
		return out
	case v.IsInt:
		return v.Int
	default:
		return v.Text()
	}
}

func loadTorrentFile(path string) (*metainfo.TorrentData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return metainfo.LoadTorrentFile(raw)
}

func printInfo(td *metainfo.TorrentData) {
	fmt.Printf("Tracker URL: %s\n", td.Tracker)
	fmt.Printf("Length: %d\n", td.TotalLength)
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(td.InfoHash[:]))
	fmt.Printf("Piece Length: %d\n", td.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range td.PieceHashes {
		fmt.Println(hex.EncodeToString(h[:]))
	}
}

func cmdInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: info <file.torrent>")
	}
	td, err := loadTorrentFile(args[0])
	if err != nil {
		return err
	}
	printInfo(td)
	return nil
}

func announceAndFill(td *metainfo.TorrentData, left int64) error {
	peers, err := tracker.Announce(td.Tracker, td.InfoHash, left)
	if err != nil {
		return err
	}
	td.Peers = peers
	return nil
}

func cmdPeers(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: peers <file.torrent>")
	}
	td, err := loadTorrentFile(args[0])
	if err != nil {
		return err
	}
	if err := announceAndFill(td, td.TotalLength); err != nil {
		return err
	}
	for _, p := range td.Peers {
		fmt.Println(p.Endpoint())
	}
	return nil
}

func cmdHandshake(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: handshake <file.torrent> <ip:port>")
	}
	td, err := loadTorrentFile(args[0])
	if err != nil {
		return err
	}
	return doHandshake(td, args[1])
}

func doHandshake(td *metainfo.TorrentData, endpoint string) error {
	ip, port, err := splitEndpoint(endpoint)
	if err != nil {
		return err
	}
	p := peer.New(ip, port)
	if err := p.Connect(td.InfoHash, tracker.PeerID); err != nil {
		return err
	}
	defer p.Close()
	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(p.PeerID[:]))
	return nil
}

func cmdDownloadPiece(args []string) error {
	outPath, rest, err := parseOutFlag(args)
	if err != nil {
		return err
	}
	if len(rest) < 2 {
		return fmt.Errorf("usage: download_piece -o <out> <file.torrent> <index>")
	}
	td, err := loadTorrentFile(rest[0])
	if err != nil {
		return err
	}
	index, err := parseIndex(rest[1])
	if err != nil {
		return err
	}
	if err := announceAndFill(td, td.TotalLength); err != nil {
		return err
	}
	return downloadPieces(td, index, outPath)
}

func cmdDownload(args []string) error {
	outPath, rest, err := parseOutFlag(args)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return fmt.Errorf("usage: download -o <out> <file.torrent>")
	}
	td, err := loadTorrentFile(rest[0])
	if err != nil {
		return err
	}
	if err := announceAndFill(td, td.TotalLength); err != nil {
		return err
	}
	return downloadPieces(td, -1, outPath)
}

func downloadPieces(td *metainfo.TorrentData, pieceIndex int, outPath string) error {
	td.OutPath = outPath
	items, err := scheduler.BuildItems(td, pieceIndex)
	if err != nil {
		return err
	}
	return scheduler.Download(td, items, outPath)
}

func cmdMagnetParse(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: magnet_parse <magnet-uri>")
	}
	td, err := metainfo.ParseMagnet(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", td.Tracker)
	fmt.Printf("Info Hash: %s\n", hex.EncodeToString(td.InfoHash[:]))
	return nil
}

func cmdMagnetHandshake(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: magnet_handshake <magnet-uri>")
	}
	td, err := metainfo.ParseMagnet(args[0])
	if err != nil {
		return err
	}
	if err := announceAndFill(td, config.MagnetBootstrapLeft); err != nil {
		return err
	}
	if len(td.Peers) == 0 {
		return fmt.Errorf("no peers returned by tracker")
	}
	p := peer.New(td.Peers[0].IP, td.Peers[0].Port)
	if err := p.Connect(td.InfoHash, tracker.PeerID); err != nil {
		return err
	}
	defer p.Close()

	utMetadataID, err := extension.Handshake(p.Conn)
	if err != nil {
		return err
	}
	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(p.PeerID[:]))
	fmt.Printf("Peer Metadata Extension ID: %d\n", utMetadataID)
	return nil
}

// fetchMagnetMetadata bootstraps peers, connects to the first one, and
// performs the full ut_metadata exchange, filling in every magnet-deferred
// field of td.
func fetchMagnetMetadata(td *metainfo.TorrentData) error {
	if err := announceAndFill(td, config.MagnetBootstrapLeft); err != nil {
		return err
	}
	if len(td.Peers) == 0 {
		return fmt.Errorf("no peers returned by tracker")
	}

	p := peer.New(td.Peers[0].IP, td.Peers[0].Port)
	if err := p.Connect(td.InfoHash, tracker.PeerID); err != nil {
		return err
	}
	defer p.Close()

	utMetadataID, err := extension.Handshake(p.Conn)
	if err != nil {
		return err
	}
	infoBytes, err := extension.FetchMetadata(p.Conn, utMetadataID, td.InfoHash)
	if err != nil {
		return err
	}

	return fillFromInfoBytes(td, infoBytes)
}

// fillFromInfoBytes re-wraps the raw info-dict bytes fetched via the
// extension protocol as a minimal metainfo document (empty announce, since
// the magnet's own tracker URL is kept separately) and reuses
// metainfo.LoadTorrentFile to populate the magnet-deferred fields.
func fillFromInfoBytes(td *metainfo.TorrentData, infoBytes []byte) error {
	raw := make([]byte, 0, len(infoBytes)+32)
	raw = append(raw, []byte("d8:announce0:4:info")...)
	raw = append(raw, infoBytes...)
	raw = append(raw, 'e')

	loaded, err := metainfo.LoadTorrentFile(raw)
	if err != nil {
		return err
	}
	td.TotalLength = loaded.TotalLength
	td.PieceLength = loaded.PieceLength
	td.PieceHashes = loaded.PieceHashes
	td.Files = loaded.Files
	if td.Name == "" {
		td.Name = loaded.Name
	}
	return nil
}

func cmdMagnetInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: magnet_info <magnet-uri>")
	}
	td, err := metainfo.ParseMagnet(args[0])
	if err != nil {
		return err
	}
	if err := fetchMagnetMetadata(td); err != nil {
		return err
	}
	printInfo(td)
	return nil
}

func cmdMagnetDownloadPiece(args []string) error {
	outPath, rest, err := parseOutFlag(args)
	if err != nil {
		return err
	}
	if len(rest) < 2 {
		return fmt.Errorf("usage: magnet_download_piece -o <out> <magnet-uri> <index>")
	}
	td, err := metainfo.ParseMagnet(rest[0])
	if err != nil {
		return err
	}
	index, err := parseIndex(rest[1])
	if err != nil {
		return err
	}
	if err := fetchMagnetMetadata(td); err != nil {
		return err
	}
	if err := announceAndFill(td, td.TotalLength); err != nil {
		return err
	}
	return downloadPieces(td, index, outPath)
}

func cmdMagnetDownload(args []string) error {
	outPath, rest, err := parseOutFlag(args)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return fmt.Errorf("usage: magnet_download -o <out> <magnet-uri>")
	}
	td, err := metainfo.ParseMagnet(rest[0])
	if err != nil {
		return err
	}
	if err := fetchMagnetMetadata(td); err != nil {
		return err
	}
	if err := announceAndFill(td, td.TotalLength); err != nil {
		return err
	}
	return downloadPieces(td, -1, outPath)
}
