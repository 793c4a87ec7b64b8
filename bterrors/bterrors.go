// Package bterrors defines the error kinds shared across the client.
package bterrors

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", Kind) at the point of
// failure and recover the kind with errors.Is.
var (
	// ErrMalformed indicates bencode that does not parse as valid syntax.
	ErrMalformed = errors.New("malformed bencode")
	// ErrTruncated indicates the input ended before a value was complete.
	ErrTruncated = errors.New("truncated bencode")
	// ErrOutOfRange indicates a length prefix exceeds the remaining input,
	// or a requested piece index is past the last piece.
	ErrOutOfRange = errors.New("bencode length out of range")
	// ErrMetadataCorrupt indicates a magnet metadata fetch whose hash does
	// not match the info-hash from the magnet link, or that the peer
	// rejected.
	ErrMetadataCorrupt = errors.New("metadata corrupt")
	// ErrTrackerRejected indicates the tracker replied with a failure reason.
	ErrTrackerRejected = errors.New("tracker rejected request")
	// ErrPeerUnreachable indicates a connect, send, or receive failure.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrHandshakeFailed indicates a malformed or mismatched handshake.
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrProtocolViolation indicates an unexpected message or payload shape.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrHashMismatch indicates a piece failed SHA-1 verification.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrIOFailure indicates a filesystem error on spill or output files.
	ErrIOFailure = errors.New("io failure")
)
