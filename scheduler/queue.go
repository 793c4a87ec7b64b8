// Package scheduler implements the concurrent piece scheduler: a FIFO
// work queue distributed across a bounded worker pool, requeue-on-failure,
// and ordered reassembly of verified pieces into the final output.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/alexpiel/bittorrent-core/metainfo"
)

// Queue is a mutex-guarded FIFO of pending piece jobs.
type Queue struct {
	mu    sync.Mutex
	items []*Item
}

// Item is one pending job, identified by index with the data needed to
// attempt its download.
type Item struct {
	Index          int
	ExpectedLength int
	ExpectedHash   [20]byte
}

// NewQueue builds a queue already populated with items in ascending index
// order.
func NewQueue(items []*Item) *Queue {
	return &Queue{items: items}
}

// PopFront removes and returns the head item, or nil if the queue is empty.
func (q *Queue) PopFront() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Push appends an item to the back of the queue (used to requeue a job
// that failed).
func (q *Queue) Push(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// IsEmpty reports whether the queue currently has no items.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// BuildItems enumerates every piece of td in ascending index order. When
// pieceIndex >= 0, only that single piece's item is returned, for the
// download_piece/magnet_download_piece CLI commands.
func BuildItems(td *metainfo.TorrentData, pieceIndex int) ([]*Item, error) {
	if pieceIndex >= 0 {
		if pieceIndex >= len(td.PieceHashes) {
			return nil, fmt.Errorf("piece index %d out of range (have %d pieces): %w", pieceIndex, len(td.PieceHashes), bterrors.ErrOutOfRange)
		}
		return []*Item{{
			Index:          pieceIndex,
			ExpectedLength: pieceLength(td, pieceIndex),
			ExpectedHash:   td.PieceHashes[pieceIndex],
		}}, nil
	}

	items := make([]*Item, len(td.PieceHashes))
	for i := range items {
		items[i] = &Item{
			Index:          i,
			ExpectedLength: pieceLength(td, i),
			ExpectedHash:   td.PieceHashes[i],
		}
	}
	return items, nil
}

// pieceLength returns piece_length for every piece except the last, which
// may be shorter.
func pieceLength(td *metainfo.TorrentData, index int) int {
	if index < len(td.PieceHashes)-1 {
		return int(td.PieceLength)
	}
	last := td.TotalLength - int64(index)*td.PieceLength
	return int(last)
}
