// Package config collects the fixed protocol constants used across the
// client. There is no config file: every value here is either mandated by
// the BitTorrent wire protocol or a fixed operational choice spelled out by
// the spec (block size, pipeline depth, worker pool cap).
package config

import "time"

const (
	// PeerIDPrefix identifies this client in the 20-byte peer id sent
	// during the handshake and in tracker announces.
	PeerIDPrefix = "-BC0100-"

	// ListenPort is the port advertised to trackers. The client does not
	// actually listen for incoming connections (no seeding/uploading).
	ListenPort = 6881

	// BlockSize is the size in bytes of a single REQUEST/PIECE block.
	BlockSize = 16 * 1024

	// PipelineDepth is the number of outstanding block requests kept in
	// flight to a single peer while downloading one piece.
	PipelineDepth = 5

	// MaxWorkers bounds the worker pool regardless of how many peers or
	// piece jobs are available.
	MaxWorkers = 10

	// UTMetadataExtensionID is the id this client advertises for the
	// ut_metadata extension in its own extension handshake.
	UTMetadataExtensionID = 19

	// HandshakePstr is the fixed protocol string sent in every handshake.
	HandshakePstr = "BitTorrent protocol"

	// DialTimeout bounds a single peer TCP connection attempt.
	DialTimeout = 5 * time.Second

	// MessageReadTimeout bounds a single wire message read.
	MessageReadTimeout = 10 * time.Second

	// TrackerTimeout bounds a single HTTP announce round trip.
	TrackerTimeout = 15 * time.Second

	// MagnetBootstrapLeft is the "left" value announced when bootstrapping
	// a magnet link, before the total length is known from metadata.
	MagnetBootstrapLeft = 999
)
