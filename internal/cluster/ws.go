package cluster

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/ratelimit"
)

// WSMessage is the JSON message format for the node control channel.
type WSMessage struct {
	Type    string          `json:"type"` // "register", "heartbeat", "disconnect"
	Payload json.RawMessage `json:"payload"`
}

// WSResponse is a JSON response sent back over the control channel.
type WSResponse struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// RegisterPayload is the payload for a "register" message.
type RegisterPayload struct {
	ID            string   `json:"id"`
	Address       string   `json:"address"`
	Capabilities  []string `json:"capabilities"`
	Weight        float64  `json:"weight"`
	MaxConcurrent int      `json:"max_concurrent"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlMessageRate bounds per-connection control traffic. Heartbeats arrive
// every 30 seconds, so 60 per minute leaves generous headroom.
const controlMessageRate = 60

// HandleWebSocket returns an HTTP handler that upgrades connections to
// WebSocket and processes node control messages. A disconnect (explicit or a
// dropped connection) acknowledges and stops reading; the node's record stays
// in the manager so in-flight work and weights survive a reconnect.
func HandleWebSocket(log *zap.Logger, manager *Manager) http.HandlerFunc {
	limiter := ratelimit.NewKeyed(controlMessageRate, time.Minute)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		remote := conn.RemoteAddr().String()
		defer func() {
			limiter.Forget(remote)
			conn.Close()
		}()

		var nodeID string
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("websocket read failed",
						zap.String("remote", remote),
						zap.Error(err))
				}
				return
			}

			if !limiter.Allow(remote) {
				writeError(conn, "rate limit exceeded")
				continue
			}

			switch msg.Type {
			case "register":
				var payload RegisterPayload
				if err := json.Unmarshal(msg.Payload, &payload); err != nil {
					writeError(conn, "invalid register payload")
					continue
				}
				if payload.ID == "" || payload.Address == "" {
					writeError(conn, "register requires id and address")
					continue
				}
				caps := make([]Capability, 0, len(payload.Capabilities))
				for _, c := range payload.Capabilities {
					caps = append(caps, Capability(c))
				}
				manager.RegisterNode(NodeRecord{
					ID:            payload.ID,
					Address:       payload.Address,
					Capabilities:  caps,
					Weight:        payload.Weight,
					MaxConcurrent: payload.MaxConcurrent,
				})
				nodeID = payload.ID
				resp := WSResponse{
					Type:    "registered",
					Payload: map[string]string{"node_id": payload.ID},
				}
				if err := conn.WriteJSON(resp); err != nil {
					log.Warn("websocket write failed", zap.Error(err))
					return
				}

			case "heartbeat":
				if nodeID != "" {
					manager.Heartbeat(nodeID)
				}
				resp := WSResponse{
					Type:    "heartbeat_ack",
					Payload: map[string]string{"status": "ok"},
				}
				if err := conn.WriteJSON(resp); err != nil {
					log.Warn("websocket write failed", zap.Error(err))
					return
				}

			case "disconnect":
				// The record outlives the connection; only the channel closes.
				resp := WSResponse{
					Type:    "disconnected",
					Payload: map[string]string{"status": "ok"},
				}
				_ = conn.WriteJSON(resp)
				return

			default:
				writeError(conn, "unknown message type: "+msg.Type)
			}
		}
	}
}

func writeError(conn *websocket.Conn, message string) {
	resp := WSResponse{
		Type:    "error",
		Payload: map[string]string{"error": message},
	}
	_ = conn.WriteJSON(resp)
}
