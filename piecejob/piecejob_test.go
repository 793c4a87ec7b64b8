package piecejob

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/alexpiel/bittorrent-core/config"
	"github.com/alexpiel/bittorrent-core/peer"
	"github.com/stretchr/testify/require"
)

// fakeConn services Request messages by immediately queuing a matching
// Piece response, simulating a cooperative peer.
type fakeConn struct {
	pieceData []byte
	out       bytes.Buffer
	in        bytes.Buffer
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.out.Write(p)
	c.drainRequests()
	return len(p), nil
}

func (c *fakeConn) Read(p []byte) (int, error) {
	return c.in.Read(p)
}

// drainRequests parses any complete REQUEST messages buffered in out and
// appends the corresponding PIECE response to in.
func (c *fakeConn) drainRequests() {
	for {
		msg, err := peer.ReadMessage(&c.out)
		if err != nil {
			return
		}
		if msg.Type != peer.Request {
			continue
		}
		index, begin, length, ok := decodeRequest(msg.Payload)
		if !ok {
			continue
		}
		block := c.pieceData[begin : begin+length]
		payload := make([]byte, 8+length)
		putU32(payload, 0, index)
		putU32(payload, 4, begin)
		copy(payload[8:], block)
		peer.Send(&c.in, peer.Message{Type: peer.Piece, Payload: payload})
	}
}

func putU32(b []byte, off, v int) {
	b[off] = byte(v >> 24)
	b[off+1] = byte(v >> 16)
	b[off+2] = byte(v >> 8)
	b[off+3] = byte(v)
}

func decodeRequest(payload []byte) (index, begin, length int, ok bool) {
	if len(payload) != 12 {
		return 0, 0, 0, false
	}
	index = int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	begin = int(payload[4])<<24 | int(payload[5])<<16 | int(payload[6])<<8 | int(payload[7])
	length = int(payload[8])<<24 | int(payload[9])<<16 | int(payload[10])<<8 | int(payload[11])
	return index, begin, length, true
}

func TestDownloadSinglePieceExactBlockSize(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, config.BlockSize)
	hash := sha1.Sum(data)

	conn := &fakeConn{pieceData: data}
	job := NewJob(0, len(data), hash)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out")
	require.NoError(t, job.Download(conn, outPath))
	require.Equal(t, outPath+"_piece_0", job.SpillPath)

	spilled, err := os.ReadFile(job.SpillPath)
	require.NoError(t, err)
	require.Equal(t, data, spilled)
}

func TestDownloadRejectsHashMismatch(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, config.BlockSize)
	var wrongHash [20]byte

	conn := &fakeConn{pieceData: data}
	job := NewJob(0, len(data), wrongHash)

	dir := t.TempDir()
	err := job.Download(conn, filepath.Join(dir, "out"))
	require.Error(t, err)
}

func TestDownloadLastPieceShorterThanBlock(t *testing.T) {
	length := config.BlockSize/2
	data := bytes.Repeat([]byte{0x07}, length)
	hash := sha1.Sum(data)

	conn := &fakeConn{pieceData: data}
	job := NewJob(2, length, hash)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out")
	require.NoError(t, job.Download(conn, outPath))
	spilled, err := os.ReadFile(outPath + "_piece_2")
	require.NoError(t, err)
	require.Equal(t, data, spilled)
}

func TestResetClearsMutableState(t *testing.T) {
	job := NewJob(0, 10, [20]byte{})
	job.downloadedLen = 10
	job.buffer = make([]byte, 10)
	job.SpillPath = "x"
	job.Reset()
	require.Equal(t, 0, job.downloadedLen)
	require.Nil(t, job.buffer)
	require.Equal(t, "", job.SpillPath)
}
