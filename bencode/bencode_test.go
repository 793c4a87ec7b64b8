package bencode

import (
	"crypto/sha1"
	"errors"
	"testing"

	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/stretchr/testify/require"
)

func TestDecodeInt(t *testing.T) {
	v, err := Decode([]byte("i52e"))
	require.NoError(t, err)
	require.True(t, v.IsInt)
	require.Equal(t, int64(52), v.Int)
}

func TestDecodeNegativeInt(t *testing.T) {
	v, err := Decode([]byte("i-42e"))
	require.NoError(t, err)
	require.Equal(t, int64(-42), v.Int)
}

func TestDecodeString(t *testing.T) {
	v, err := Decode([]byte("5:hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", v.Text())
}

func TestDecodeEmptyString(t *testing.T) {
	v, err := Decode([]byte("0:"))
	require.NoError(t, err)
	require.Equal(t, "", v.Text())
}

func TestDecodeList(t *testing.T) {
	v, err := Decode([]byte("l5:helloi52ee"))
	require.NoError(t, err)
	require.Len(t, v.List, 2)
	require.Equal(t, "hello", v.List[0].Text())
	require.Equal(t, int64(52), v.List[1].Int)
}

func TestDecodeEmptyList(t *testing.T) {
	v, err := Decode([]byte("le"))
	require.NoError(t, err)
	require.NotNil(t, v.List)
	require.Len(t, v.List, 0)
}

func TestDecodeDict(t *testing.T) {
	v, err := Decode([]byte("d3:foo3:bar5:helloi52ee"))
	require.NoError(t, err)
	require.Equal(t, "bar", v.Dict["foo"].Text())
	require.Equal(t, int64(52), v.Dict["hello"].Int)
}

func TestDecodeEmptyDict(t *testing.T) {
	v, err := Decode([]byte("de"))
	require.NoError(t, err)
	require.NotNil(t, v.Dict)
	require.Len(t, v.Dict, 0)
}

func TestDecodeRejectsLeadingZero(t *testing.T) {
	_, err := Decode([]byte("i03e"))
	require.Error(t, err)
	require.True(t, errors.Is(err, bterrors.ErrMalformed))
}

func TestDecodeRejectsNegativeZero(t *testing.T) {
	_, err := Decode([]byte("i-0e"))
	require.Error(t, err)
	require.True(t, errors.Is(err, bterrors.ErrMalformed))
}

func TestDecodeTruncatedInt(t *testing.T) {
	_, err := Decode([]byte("i12"))
	require.Error(t, err)
	require.True(t, errors.Is(err, bterrors.ErrTruncated))
}

func TestDecodeTruncatedString(t *testing.T) {
	_, err := Decode([]byte("5:hel"))
	require.Error(t, err)
	require.True(t, errors.Is(err, bterrors.ErrOutOfRange))
}

func TestDecodeUnexpectedTag(t *testing.T) {
	_, err := Decode([]byte("x"))
	require.Error(t, err)
	require.True(t, errors.Is(err, bterrors.ErrMalformed))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("i0e"),
		[]byte("i-42e"),
		[]byte("0:"),
		[]byte("le"),
		[]byte("de"),
		[]byte("d3:bar4:spam3:fooi42ee"),
	}
	for _, raw := range cases {
		v, err := Decode(raw)
		require.NoError(t, err)
		got := Encode(v)
		v2, err := Decode(got)
		require.NoError(t, err)
		require.Equal(t, Encode(v2), got)
	}
}

func TestEncodeSortsDictKeys(t *testing.T) {
	v := Value{Dict: map[string]Value{
		"zeta":  {Str: []byte("z")},
		"alpha": {Str: []byte("a")},
	}}
	require.Equal(t, "d5:alpha1:a4:zeta1:ze", string(Encode(v)))
}

func TestExtractInfoHashRecordsRawSpan(t *testing.T) {
	// The "info" dict's keys are deliberately out of sorted order, so a
	// canonical re-encode would produce different bytes. This asserts the
	// extraction hashes the raw encountered bytes, not a canonical
	// re-encode, by checking it matches hashing the same substring by hand.
	raw := []byte("d8:announce3:xxx4:infod4:name4:test6:lengthi10eee")
	hash, err := ExtractInfoHash(raw)
	require.NoError(t, err)

	infoStart := len("d8:announce3:xxx4:info")
	infoBytes := raw[infoStart : len(raw)-1]
	want := sha1.Sum(infoBytes)
	require.Equal(t, want, hash)
}

func TestExtractInfoHashMissingInfo(t *testing.T) {
	_, err := ExtractInfoHash([]byte("d8:announce3:xxxe"))
	require.Error(t, err)
	require.True(t, errors.Is(err, bterrors.ErrMalformed))
}

func TestSplitPieceHashes(t *testing.T) {
	pieces := make([]byte, 40)
	for i := range pieces {
		pieces[i] = byte(i)
	}
	hashes, err := SplitPieceHashes(pieces)
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	require.Equal(t, pieces[:20], hashes[0][:])
	require.Equal(t, pieces[20:], hashes[1][:])
}

func TestSplitPieceHashesRejectsBadLength(t *testing.T) {
	_, err := SplitPieceHashes(make([]byte, 21))
	require.Error(t, err)
	require.True(t, errors.Is(err, bterrors.ErrMalformed))
}
