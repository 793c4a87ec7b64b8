// Package piecejob implements the per-piece block pipelining, buffer
// placement, hash verification, and spill-file writing described in
// spec.md §4.6.
package piecejob

import (
	"crypto/sha1"
	"fmt"
	"os"

	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/alexpiel/bittorrent-core/config"
	"github.com/alexpiel/bittorrent-core/peer"
)

// Job is a single piece's download state as it passes through the work
// queue, a worker, and the ordered completion sink.
type Job struct {
	Index          int
	ExpectedLength int
	ExpectedHash   [20]byte

	downloadedLen int
	buffer        []byte

	SpillPath string
}

// NewJob constructs a pending job for the given piece index.
func NewJob(index, expectedLength int, expectedHash [20]byte) *Job {
	return &Job{Index: index, ExpectedLength: expectedLength, ExpectedHash: expectedHash}
}

// Reset clears mutable state after a failed attempt so the job can be
// requeued clean.
func (j *Job) Reset() {
	j.downloadedLen = 0
	j.buffer = nil
	j.SpillPath = ""
}

// Download drives the pipelined block-request protocol for one piece
// against an already-handshaken, unchoked peer connection, writes the
// verified bytes to a spill file, and records its path on the job.
func (j *Job) Download(conn peer.Conn, outPath string) error {
	j.buffer = make([]byte, j.ExpectedLength)
	numBlocks := (j.ExpectedLength + config.BlockSize - 1) / config.BlockSize

	nextBlock := 0
	for nextBlock < numBlocks {
		batch := config.PipelineDepth
		if remaining := numBlocks - nextBlock; remaining < batch {
			batch = remaining
		}
		for i := 0; i < batch; i++ {
			begin := (nextBlock + i) * config.BlockSize
			length := config.BlockSize
			if begin+length > j.ExpectedLength {
				length = j.ExpectedLength - begin
			}
			if err := peer.Send(conn, peer.RequestMessage(j.Index, begin, length)); err != nil {
				return err
			}
		}
		for i := 0; i < batch; i++ {
			if err := j.readOneBlock(conn); err != nil {
				return err
			}
		}
		nextBlock += batch
	}

	return j.verifyAndSpill(outPath)
}

func (j *Job) readOneBlock(conn peer.Conn) error {
	msg, err := peer.ReadExpected(conn, peer.Piece)
	if err != nil {
		return err
	}
	index, begin, block, err := peer.ParsePiece(msg.Payload)
	if err != nil {
		return err
	}
	if index != j.Index {
		return fmt.Errorf("piece message for index %d, want %d: %w", index, j.Index, bterrors.ErrProtocolViolation)
	}
	if begin+len(block) > j.ExpectedLength {
		return fmt.Errorf("block [%d:%d) exceeds piece length %d: %w", begin, begin+len(block), j.ExpectedLength, bterrors.ErrProtocolViolation)
	}
	copy(j.buffer[begin:], block)
	j.downloadedLen += len(block)
	return nil
}

func (j *Job) verifyAndSpill(outPath string) error {
	if j.downloadedLen != j.ExpectedLength {
		return fmt.Errorf("downloaded %d bytes, want %d: %w", j.downloadedLen, j.ExpectedLength, bterrors.ErrProtocolViolation)
	}
	got := sha1.Sum(j.buffer)
	if got != j.ExpectedHash {
		return fmt.Errorf("piece %d hash mismatch: %w", j.Index, bterrors.ErrHashMismatch)
	}

	spillPath := fmt.Sprintf("%s_piece_%d", outPath, j.Index)
	if err := os.WriteFile(spillPath, j.buffer, 0o644); err != nil {
		return fmt.Errorf("writing spill file %s: %w", spillPath, bterrors.ErrIOFailure)
	}
	j.SpillPath = spillPath
	j.buffer = nil
	return nil
}
