// Package bencode implements the subset of bencoding used by torrent
// metadata: byte strings, integers, and dictionaries. Dictionary keys are
// always emitted in lexicographic order so that encoding is deterministic
// regardless of how the value was constructed.
package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrMalformed is wrapped by every decode error.
var ErrMalformed = errors.New("malformed bencode")

// Encode serializes a value into bencode format. Supported types are string
// and []byte (byte strings), int and int64 (integers), and map[string]any
// (dictionaries). Dictionary keys are sorted before encoding.
func Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeTo(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeTo(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case string:
		buf.WriteString(strconv.Itoa(len(v)))
		buf.WriteByte(':')
		buf.WriteString(v)
	case []byte:
		buf.WriteString(strconv.Itoa(len(v)))
		buf.WriteByte(':')
		buf.Write(v)
	case int:
		buf.WriteByte('i')
		buf.WriteString(strconv.Itoa(v))
		buf.WriteByte('e')
	case int64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v, 10))
		buf.WriteByte('e')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('d')
		for _, k := range keys {
			if err := encodeTo(buf, k); err != nil {
				return err
			}
			if err := encodeTo(buf, v[k]); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		buf.WriteByte('e')
	default:
		return fmt.Errorf("unsupported type %T", value)
	}
	return nil
}

// Decode parses a single bencode value from the front of data and returns it
// along with the number of bytes consumed. Byte strings decode to string,
// integers to int64, and dictionaries to map[string]any.
func Decode(data []byte) (any, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	switch b := data[0]; {
	case b == 'i':
		return decodeInt(data)
	case b == 'd':
		return decodeDict(data)
	case b >= '0' && b <= '9':
		return decodeString(data)
	default:
		return nil, 0, fmt.Errorf("%w: unrecognized leading byte %q", ErrMalformed, b)
	}
}

func decodeInt(data []byte) (int64, int, error) {
	end := bytes.IndexByte(data, 'e')
	if end < 0 {
		return 0, 0, fmt.Errorf("%w: missing integer terminator", ErrMalformed)
	}
	n, err := strconv.ParseInt(string(data[1:end]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid integer %q", ErrMalformed, data[1:end])
	}
	return n, end + 1, nil
}

func decodeString(data []byte) (string, int, error) {
	colon := bytes.IndexByte(data, ':')
	if colon < 0 {
		return "", 0, fmt.Errorf("%w: missing length separator", ErrMalformed)
	}
	length, err := strconv.Atoi(string(data[:colon]))
	if err != nil || length < 0 {
		return "", 0, fmt.Errorf("%w: invalid length prefix %q", ErrMalformed, data[:colon])
	}
	start := colon + 1
	end := start + length
	if end > len(data) {
		return "", 0, fmt.Errorf("%w: declared length %d exceeds buffer", ErrMalformed, length)
	}
	return string(data[start:end]), end, nil
}

func decodeDict(data []byte) (map[string]any, int, error) {
	dict := make(map[string]any)
	pos := 1

	for pos < len(data) && data[pos] != 'e' {
		key, n, err := Decode(data[pos:])
		if err != nil {
			return nil, 0, err
		}
		keyStr, ok := key.(string)
		if !ok {
			return nil, 0, fmt.Errorf("%w: dictionary key must be a string, got %T", ErrMalformed, key)
		}
		pos += n

		if pos >= len(data) {
			break
		}
		value, n, err := Decode(data[pos:])
		if err != nil {
			return nil, 0, fmt.Errorf("key %q: %w", keyStr, err)
		}
		pos += n

		dict[keyStr] = value
	}

	if pos >= len(data) || data[pos] != 'e' {
		return nil, 0, fmt.Errorf("%w: missing dictionary terminator", ErrMalformed)
	}
	return dict, pos + 1, nil
}
