package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownShape means a payload matched none of the known request shapes.
var ErrUnknownShape = errors.New("unknown request shape")

// Kind identifies a message shape.
type Kind int

const (
	KindUnknown Kind = iota
	KindAnnounce
	KindFile
	KindAi
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindAnnounce:
		return "announce"
	case KindFile:
		return "file"
	case KindAi:
		return "ai"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Request is the tagged union of parsed request messages. Concrete types are
// *AnnounceRequest, *FileRequest, and *AiRequest.
type Request interface {
	Kind() Kind
}

func (*AnnounceRequest) Kind() Kind { return KindAnnounce }
func (*FileRequest) Kind() Kind     { return KindFile }
func (*AiRequest) Kind() Kind       { return KindAi }

// Classify parses a raw payload into a typed request. Shapes are matched
// structurally by distinguishing-field presence, in fixed priority:
// announce (info_hash + peer_id), then file, then ai. The first match wins.
//
// A payload carrying fields from more than one shape is classified by this
// priority order, which can misroute it. The order is kept for wire
// compatibility with existing peers.
func Classify(raw []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrUnknownShape)
	}

	_, hasInfoHash := fields["info_hash"]
	_, hasPeerID := fields["peer_id"]
	_, hasFile := fields["file"]
	_, hasQuery := fields["query"]

	switch {
	case hasInfoHash && hasPeerID:
		var req AnnounceRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: malformed announce request", ErrUnknownShape)
		}
		return &req, nil
	case hasFile:
		var req FileRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: malformed file request", ErrUnknownShape)
		}
		return &req, nil
	case hasQuery:
		var req AiRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: malformed ai request", ErrUnknownShape)
		}
		return &req, nil
	default:
		return nil, ErrUnknownShape
	}
}

// ClassifyResponse identifies a response payload by shape. It exists for
// logging and diagnostics only; callers decode responses into the type they
// expect for the request they sent.
func ClassifyResponse(raw []byte) Kind {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return KindUnknown
	}
	switch {
	case hasField(fields, "interval"):
		return KindAnnounce
	case hasField(fields, "data"):
		return KindFile
	case hasField(fields, "answer"):
		return KindAi
	case hasField(fields, "error"):
		return KindError
	default:
		return KindUnknown
	}
}

func hasField(fields map[string]json.RawMessage, name string) bool {
	_, ok := fields[name]
	return ok
}

// DecodeError extracts an ErrorResponse from a payload if it is one. Used by
// clients to surface structured server failures.
func DecodeError(raw []byte) (*ErrorResponse, bool) {
	if ClassifyResponse(raw) != KindError {
		return nil, false
	}
	var er ErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, false
	}
	return &er, true
}
