// Package torrent parses torrent metadata files into descriptors and derives
// the content identity (info hash) from the canonical encoding of the info
// dictionary.
package torrent

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ssd-technologies/tidepool/internal/bencode"
)

// HashSize is the length of a single piece hash in bytes.
const HashSize = sha1.Size

var (
	ErrMissingField = errors.New("missing required field")
	ErrTypeMismatch = errors.New("field has wrong type")
)

// Descriptor holds the metadata parsed from a torrent file.
type Descriptor struct {
	Announce    string
	InfoHash    string // hex-encoded SHA-1 of the canonical info dictionary
	Name        string
	Length      int64
	PieceLength int64
	PieceHashes [][]byte // HashSize bytes each
}

// Parse decodes raw torrent-file bytes into a Descriptor. The info hash is
// recomputed by re-encoding the info dictionary, so it is independent of the
// key order in the original file.
func Parse(raw []byte) (*Descriptor, error) {
	decoded, _, err := bencode.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode torrent file: %w", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: torrent file must be a dictionary", ErrTypeMismatch)
	}

	announce, err := requireString(top, "announce")
	if err != nil {
		return nil, err
	}

	infoValue, ok := top["info"]
	if !ok {
		return nil, fmt.Errorf("%w: info", ErrMissingField)
	}
	info, ok := infoValue.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: info must be a dictionary", ErrTypeMismatch)
	}

	infoBytes, err := bencode.Encode(info)
	if err != nil {
		return nil, fmt.Errorf("re-encode info: %w", err)
	}
	digest := sha1.Sum(infoBytes)

	name, err := requireString(info, "name")
	if err != nil {
		return nil, err
	}
	length, err := requireInt(info, "length")
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: length must be non-negative", ErrTypeMismatch)
	}
	pieceLength, err := requireInt(info, "piece length")
	if err != nil {
		return nil, err
	}
	if pieceLength <= 0 {
		return nil, fmt.Errorf("%w: piece length must be positive", ErrTypeMismatch)
	}
	pieces, err := requireString(info, "pieces")
	if err != nil {
		return nil, err
	}

	// Chunk the concatenated hashes; a trailing partial chunk is dropped.
	var hashes [][]byte
	for i := 0; i+HashSize <= len(pieces); i += HashSize {
		hashes = append(hashes, []byte(pieces[i:i+HashSize]))
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("%w: pieces contains no complete hash", ErrMissingField)
	}

	return &Descriptor{
		Announce:    announce,
		InfoHash:    hex.EncodeToString(digest[:]),
		Name:        name,
		Length:      length,
		PieceLength: pieceLength,
		PieceHashes: hashes,
	}, nil
}

func requireString(dict map[string]any, key string) (string, error) {
	v, ok := dict[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrTypeMismatch, key)
	}
	return s, nil
}

func requireInt(dict map[string]any, key string) (int64, error) {
	v, ok := dict[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrTypeMismatch, key)
	}
	return n, nil
}
