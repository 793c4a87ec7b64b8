// Package bencode implements a bit-exact decoder and encoder for the
// Bencode format used by .torrent files and the ut_metadata extension.
package bencode

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/alexpiel/bittorrent-core/bterrors"
)

// Value is a generic decoded Bencode value. Exactly one of Dict, List, Str
// or IsInt is meaningful for a given Value; Str holds the raw, possibly
// non-UTF-8 bytes of a byte string.
type Value struct {
	Dict  map[string]Value
	List  []Value
	Str   []byte
	Int   int64
	IsInt bool

	// InfoHash is set on a dictionary Value that has its own key "info"
	// (for a .torrent file, the top-level Value returned by Decode): it is
	// SHA1 of the exact raw bytes the "info" value occupied in the input,
	// recorded while decoding rather than recovered by re-encoding (see
	// ExtractInfoHash). An "info" key nested inside another "info" value
	// does not set it.
	InfoHash    [20]byte
	hasInfoHash bool
}

// Text returns Str decoded as UTF-8 text. Callers must only use this for
// fields known to be textual (announce, name); pieces and other opaque
// byte strings must use Str directly.
func (v Value) Text() string {
	return string(v.Str)
}

// HasInfoHash reports whether this dictionary Value has a key "info" for
// which Decode populated InfoHash.
func (v Value) HasInfoHash() bool {
	return v.hasInfoHash
}

// Decode parses a single Bencode value from buf. It returns OutOfRange if
// a string's length prefix exceeds the remaining input, Truncated if buf
// otherwise ends mid-value, and Malformed for any other syntax error.
func Decode(buf []byte) (Value, error) {
	r := bytes.NewReader(buf)
	return decode(r, nil, false)
}

// DecodePrefix parses a single Bencode value from the start of buf and
// returns it along with whatever bytes follow it, unconsumed. This is how
// the ut_metadata metadata reply locates the raw info-dict bytes trailing
// its bencoded envelope.
func DecodePrefix(buf []byte) (Value, []byte, error) {
	r := bytes.NewReader(buf)
	v, err := decode(r, nil, false)
	if err != nil {
		return Value{}, nil, err
	}
	consumed := len(buf) - r.Len()
	return v, buf[consumed:], nil
}

// decode reads one value from r. span, when non-nil, accumulates the exact
// bytes consumed for this value so the enclosing decodeDict call can hash
// them once the "info" value closes -- this is how the info-hash is
// derived from the exact original bytes instead of a re-encode.
func decode(r *bytes.Reader, span *bytes.Buffer, inSpan bool) (Value, error) {
	ch, err := r.ReadByte()
	if err != nil {
		return Value{}, fmt.Errorf("reading value tag: %w", bterrors.ErrTruncated)
	}
	if inSpan {
		span.WriteByte(ch)
	}
	switch {
	case ch == 'i':
		return decodeInt(r, span, inSpan)
	case ch == 'l':
		return decodeList(r, span, inSpan)
	case ch == 'd':
		return decodeDict(r, span, inSpan)
	case ch >= '0' && ch <= '9':
		r.UnreadByte()
		if inSpan {
			span.Truncate(span.Len() - 1)
		}
		return decodeString(r, span, inSpan)
	default:
		return Value{}, fmt.Errorf("unexpected tag byte %q: %w", ch, bterrors.ErrMalformed)
	}
}

// readUntil reads bytes up to and including delim, erroring Truncated if r
// runs out first.
func readUntil(r *bytes.Reader, delim byte) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("reading up to %q: %w", delim, bterrors.ErrTruncated)
		}
		buf = append(buf, b)
		if b == delim {
			return string(buf), nil
		}
	}
}

func decodeInt(r *bytes.Reader, span *bytes.Buffer, inSpan bool) (Value, error) {
	digits, err := readUntil(r, 'e')
	if err != nil {
		return Value{}, err
	}
	if inSpan {
		span.WriteString(digits)
	}
	digits = digits[:len(digits)-1]
	if digits == "" {
		return Value{}, fmt.Errorf("empty integer: %w", bterrors.ErrMalformed)
	}
	if err := validateIntLiteral(digits); err != nil {
		return Value{}, err
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("parsing integer %q: %w", digits, bterrors.ErrMalformed)
	}
	return Value{Int: n, IsInt: true}, nil
}

// validateIntLiteral rejects leading zeros (except the literal "0") and "-0".
func validateIntLiteral(digits string) error {
	if digits == "-0" {
		return fmt.Errorf("invalid integer literal -0: %w", bterrors.ErrMalformed)
	}
	s := digits
	if len(s) > 0 && s[0] == '-' {
		s = s[1:]
	}
	if len(s) == 0 {
		return fmt.Errorf("invalid integer literal %q: %w", digits, bterrors.ErrMalformed)
	}
	if len(s) > 1 && s[0] == '0' {
		return fmt.Errorf("invalid integer literal %q: leading zero: %w", digits, bterrors.ErrMalformed)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("invalid integer literal %q: %w", digits, bterrors.ErrMalformed)
		}
	}
	return nil
}

func decodeString(r *bytes.Reader, span *bytes.Buffer, inSpan bool) (Value, error) {
	lenStr, err := readUntil(r, ':')
	if err != nil {
		return Value{}, err
	}
	if inSpan {
		span.WriteString(lenStr)
	}
	lenStr = lenStr[:len(lenStr)-1]
	length, err := strconv.ParseUint(lenStr, 10, 63)
	if err != nil {
		return Value{}, fmt.Errorf("parsing string length %q: %w", lenStr, bterrors.ErrMalformed)
	}
	if int64(length) > int64(r.Len()) {
		return Value{}, fmt.Errorf("string length %d exceeds remaining input: %w", length, bterrors.ErrOutOfRange)
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return Value{}, fmt.Errorf("string of length %d truncated at %d: %w", length, n, bterrors.ErrTruncated)
	}
	if inSpan {
		span.Write(buf)
	}
	return Value{Str: buf}, nil
}

func decodeList(r *bytes.Reader, span *bytes.Buffer, inSpan bool) (Value, error) {
	var list []Value
	for {
		ch, err := r.ReadByte()
		if err != nil {
			return Value{}, fmt.Errorf("reading list: %w", bterrors.ErrTruncated)
		}
		if ch == 'e' {
			if inSpan {
				span.WriteByte(ch)
			}
			if list == nil {
				list = []Value{}
			}
			return Value{List: list}, nil
		}
		r.UnreadByte()
		v, err := decode(r, span, inSpan)
		if err != nil {
			return Value{}, err
		}
		list = append(list, v)
	}
}

func decodeDict(r *bytes.Reader, span *bytes.Buffer, inSpan bool) (Value, error) {
	dict := make(map[string]Value)
	result := Value{}
	for {
		ch, err := r.ReadByte()
		if err != nil {
			return Value{}, fmt.Errorf("reading dict: %w", bterrors.ErrTruncated)
		}
		if ch == 'e' {
			if inSpan {
				span.WriteByte(ch)
			}
			result.Dict = dict
			return result, nil
		}
		r.UnreadByte()
		keyVal, err := decode(r, span, inSpan)
		if err != nil {
			return Value{}, err
		}
		if keyVal.Str == nil {
			return Value{}, fmt.Errorf("dictionary key is not a byte string: %w", bterrors.ErrMalformed)
		}
		key := string(keyVal.Str)

		// The raw bytes of the "info" value must be hashed exactly as they
		// appeared in the input: start a dedicated span for it (unless we
		// are already inside one, in which case the outer span already
		// covers these bytes) and hash it the moment it closes.
		childSpan := span
		childInSpan := inSpan
		var localSpan *bytes.Buffer
		if key == "info" && !inSpan {
			localSpan = new(bytes.Buffer)
			childSpan = localSpan
			childInSpan = true
		}
		val, err := decode(r, childSpan, childInSpan)
		if err != nil {
			return Value{}, err
		}
		if key == "info" && localSpan != nil {
			result.InfoHash = sha1.Sum(localSpan.Bytes())
			result.hasInfoHash = true
		}
		dict[key] = val
	}
}

// ExtractInfoHash returns SHA1 of the exact byte slice that encoded the
// "info" dictionary within metainfoBytes, per spec: the hash is taken over
// the original bytes, not a re-encoding of the decoded tree (re-encoding
// risks reordering dictionary keys and producing a different hash).
func ExtractInfoHash(metainfoBytes []byte) ([20]byte, error) {
	v, err := Decode(metainfoBytes)
	if err != nil {
		return [20]byte{}, err
	}
	if !v.HasInfoHash() {
		return [20]byte{}, fmt.Errorf("metainfo has no info dictionary: %w", bterrors.ErrMalformed)
	}
	return v.InfoHash, nil
}

// SplitPieceHashes splits the concatenated 20-byte SHA-1 digests in the
// "pieces" field of an info dictionary into a list of digests.
func SplitPieceHashes(pieces []byte) ([][20]byte, error) {
	const hashLen = 20
	if len(pieces)%hashLen != 0 {
		return nil, fmt.Errorf("pieces has length %d, not a multiple of %d: %w", len(pieces), hashLen, bterrors.ErrMalformed)
	}
	hashes := make([][20]byte, len(pieces)/hashLen)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*hashLen:(i+1)*hashLen])
	}
	return hashes, nil
}

// Encode serializes v canonically: dictionary keys are emitted in sorted
// lexicographic order and integers use minimal decimal form. This is used
// for constructing new values (tracker requests, extension messages); it
// is NOT used to reproduce the original info dictionary bytes for hashing
// -- ExtractInfoHash hashes a recorded raw span instead of re-encoding,
// since re-encoding risks reordering keys relative to the original.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeTo(&buf, v)
	return buf.Bytes()
}

func encodeTo(buf *bytes.Buffer, v Value) {
	switch {
	case v.Dict != nil:
		buf.WriteByte('d')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteString(strconv.Itoa(len(k)))
			buf.WriteByte(':')
			buf.WriteString(k)
			encodeTo(buf, v.Dict[k])
		}
		buf.WriteByte('e')
	case v.List != nil:
		buf.WriteByte('l')
		for _, item := range v.List {
			encodeTo(buf, item)
		}
		buf.WriteByte('e')
	case v.IsInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	default:
		buf.WriteString(strconv.Itoa(len(v.Str)))
		buf.WriteByte(':')
		buf.Write(v.Str)
	}
}
