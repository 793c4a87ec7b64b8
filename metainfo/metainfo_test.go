package metainfo

import (
	"crypto/sha1"
	"testing"

	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/stretchr/testify/require"
)

func buildSingleFileTorrent() []byte {
	pieces := make([]byte, 40)
	for i := range pieces {
		pieces[i] = byte(i)
	}
	info := "d6:lengthi16384e4:name4:test12:piece lengthi16384e6:pieces40:" + string(pieces) + "e"
	return []byte("d8:announce23:http://tracker.example/4:info" + info + "e")
}

func TestLoadTorrentFileSingleFile(t *testing.T) {
	raw := buildSingleFileTorrent()
	td, err := LoadTorrentFile(raw)
	require.NoError(t, err)
	require.Equal(t, "http://tracker.example/", td.Tracker)
	require.Equal(t, int64(16384), td.TotalLength)
	require.Equal(t, int64(16384), td.PieceLength)
	require.Len(t, td.PieceHashes, 2)
	require.Equal(t, "test", td.Name)
	require.False(t, td.IsMagnet)

	infoStart := len("d8:announce23:http://tracker.example/4:info")
	info := raw[infoStart : len(raw)-1]
	want := sha1.Sum(info)
	require.Equal(t, want, td.InfoHash)
}

func TestLoadTorrentFileMissingAnnounce(t *testing.T) {
	_, err := LoadTorrentFile([]byte("d4:infod6:lengthi1e4:name1:a12:piece lengthi1e6:pieces0:ee"))
	require.Error(t, err)
}

func TestLoadTorrentFileBadPiecesLength(t *testing.T) {
	raw := []byte("d8:announce3:xxx4:infod6:lengthi1e4:name1:a12:piece lengthi1e6:pieces1:xee")
	_, err := LoadTorrentFile(raw)
	require.Error(t, err)
}

func TestParseMagnetExtractsInfoHashNameTracker(t *testing.T) {
	raw := "magnet:?xt=urn:btih:d69f91e6b2ae4c542468d1073a71d4ea13879a7f&dn=test&tr=http%3A%2F%2Ftracker.example%2Fannounce"
	td, err := ParseMagnet(raw)
	require.NoError(t, err)
	require.Equal(t, "d69f91e6b2ae4c542468d1073a71d4ea13879a7f", hexEncode(td.InfoHash))
	require.Equal(t, "test", td.Name)
	require.Equal(t, "http://tracker.example/announce", td.Tracker)
	require.True(t, td.IsMagnet)
}

func TestParseMagnetRejectsMissingXt(t *testing.T) {
	_, err := ParseMagnet("magnet:?dn=test")
	require.Error(t, err)
	require.ErrorIs(t, err, bterrors.ErrMalformed)
}

func TestParseMagnetRejectsNonMagnetScheme(t *testing.T) {
	_, err := ParseMagnet("http://example.com")
	require.Error(t, err)
}

func hexEncode(b [20]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 40)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
