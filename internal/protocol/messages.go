// Package protocol defines the JSON wire messages exchanged over QUIC streams
// and the structural classification that routes incoming payloads. One request
// and one response travel per bidirectional stream.
package protocol

// Error codes carried in ErrorResponse.Code.
const (
	CodeUnknownRequest     = "UNKNOWN_REQUEST"
	CodeInvalidEncoding    = "INVALID_ENCODING"
	CodeSerializationError = "SERIALIZATION_ERROR"
	CodeFileNotFound       = "FILE_NOT_FOUND"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeAIUnavailable      = "AI_UNAVAILABLE"
)

// AnnounceRequest registers a peer with the tracker for one torrent.
type AnnounceRequest struct {
	InfoHash   string `json:"info_hash"`
	PeerID     string `json:"peer_id"`
	Port       uint16 `json:"port"`
	Uploaded   uint64 `json:"uploaded,omitempty"`
	Downloaded uint64 `json:"downloaded,omitempty"`
	Left       uint64 `json:"left,omitempty"`
	Event      string `json:"event,omitempty"` // "started", "completed", "stopped"
	IP         string `json:"ip,omitempty"`
}

// AnnounceResponse lists the other peers in the swarm.
type AnnounceResponse struct {
	Interval   int        `json:"interval"`
	Peers      []PeerAddr `json:"peers"`
	Complete   int        `json:"complete"`
	Incomplete int        `json:"incomplete"`
}

// PeerAddr is a peer endpoint as reported to announcing peers.
type PeerAddr struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// FileRequest asks a node for a whole file by name.
type FileRequest struct {
	File string `json:"file"`
}

// FileResponse carries a complete file.
type FileResponse struct {
	Data     []byte `json:"data"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
}

// AiRequest submits a query for AI processing.
type AiRequest struct {
	Query      string        `json:"query"`
	Context    []ChatMessage `json:"context,omitempty"`
	Parameters *AiParameters `json:"parameters,omitempty"`
}

// ChatMessage is one turn of conversation context.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", or "system"
	Content string `json:"content"`
}

// AiParameters tunes query processing. Nil fields fall back to processor
// defaults.
type AiParameters struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// AiResponse carries the generated answer.
type AiResponse struct {
	Answer   string            `json:"answer"`
	Metadata *ResponseMetadata `json:"metadata,omitempty"`
}

// ResponseMetadata describes how an answer was produced.
type ResponseMetadata struct {
	InputTokens      int   `json:"input_tokens,omitempty"`
	OutputTokens     int   `json:"output_tokens,omitempty"`
	TotalTokens      int   `json:"total_tokens,omitempty"`
	ProcessingTimeMs int64 `json:"processing_time_ms,omitempty"`
}

// ErrorResponse is the structured failure payload. Domain failures are always
// returned this way rather than dropping the stream.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
