package scheduler

import (
	"testing"

	"github.com/alexpiel/bittorrent-core/metainfo"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue([]*Item{{Index: 0}, {Index: 1}, {Index: 2}})
	require.Equal(t, 0, q.PopFront().Index)
	require.Equal(t, 1, q.PopFront().Index)
	q.Push(&Item{Index: 3})
	require.Equal(t, 2, q.PopFront().Index)
	require.Equal(t, 3, q.PopFront().Index)
	require.Nil(t, q.PopFront())
	require.True(t, q.IsEmpty())
}

func TestCompletionSinkDrainsAscending(t *testing.T) {
	sink := NewCompletionSink()
	sink.Push(2, "p2")
	sink.Push(0, "p0")
	sink.Push(1, "p1")
	got := sink.DrainAscending()
	require.Equal(t, []int{0, 1, 2}, []int{got[0].index, got[1].index, got[2].index})
}

func TestBuildItemsThreePieces(t *testing.T) {
	td := &metainfo.TorrentData{
		TotalLength: 40000,
		PieceLength: 16384,
		PieceHashes: [][20]byte{{}, {}, {}},
	}
	items, err := BuildItems(td, -1)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, 16384, items[0].ExpectedLength)
	require.Equal(t, 16384, items[1].ExpectedLength)
	require.Equal(t, 7232, items[2].ExpectedLength)
}

func TestBuildItemsSinglePiece(t *testing.T) {
	td := &metainfo.TorrentData{
		TotalLength: 40000,
		PieceLength: 16384,
		PieceHashes: [][20]byte{{}, {}, {}},
	}
	items, err := BuildItems(td, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0].Index)
	require.Equal(t, 7232, items[0].ExpectedLength)
}

func TestBuildItemsRejectsOutOfRange(t *testing.T) {
	td := &metainfo.TorrentData{PieceHashes: [][20]byte{{}}}
	_, err := BuildItems(td, 5)
	require.Error(t, err)
}
