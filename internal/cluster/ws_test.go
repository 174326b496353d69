package cluster

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func dialControl(t *testing.T, m *Manager) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(HandleWebSocket(zap.NewNop(), m))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial control channel: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) WSResponse {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(WSMessage{Type: msgType, Payload: raw}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
	var resp WSResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read %s response: %v", msgType, err)
	}
	return resp
}

func TestWebSocket_Register(t *testing.T) {
	m := newTestManager(&fakeSender{})
	conn := dialControl(t, m)

	resp := send(t, conn, "register", RegisterPayload{
		ID:            "n1",
		Address:       "127.0.0.1:7100",
		Capabilities:  []string{"ai_processing"},
		Weight:        1.5,
		MaxConcurrent: 8,
	})
	if resp.Type != "registered" {
		t.Fatalf("response type = %q", resp.Type)
	}

	n, ok := m.Node("n1")
	if !ok {
		t.Fatal("node not in manager after register")
	}
	if n.Address != "127.0.0.1:7100" || n.Weight != 1.5 || n.MaxConcurrent != 8 {
		t.Fatalf("record = %+v", n)
	}
	if !n.hasCapability(CapabilityAIProcessing) {
		t.Fatalf("capabilities = %v", n.Capabilities)
	}
}

func TestWebSocket_RegisterRejectsMissingFields(t *testing.T) {
	m := newTestManager(&fakeSender{})
	conn := dialControl(t, m)

	resp := send(t, conn, "register", RegisterPayload{Address: "127.0.0.1:7100"})
	if resp.Type != "error" {
		t.Fatalf("response type = %q, want error", resp.Type)
	}
	if _, ok := m.Node(""); ok {
		t.Fatal("empty-id node registered")
	}
}

func TestWebSocket_Heartbeat(t *testing.T) {
	m := newTestManager(&fakeSender{})
	conn := dialControl(t, m)

	send(t, conn, "register", RegisterPayload{
		ID:           "n1",
		Address:      "a",
		Capabilities: []string{"ai_processing"},
		Weight:       1,
	})
	before, _ := m.Node("n1")

	resp := send(t, conn, "heartbeat", map[string]string{})
	if resp.Type != "heartbeat_ack" {
		t.Fatalf("response type = %q", resp.Type)
	}
	after, _ := m.Node("n1")
	if after.LastSeen.Before(before.LastSeen) {
		t.Fatal("heartbeat moved LastSeen backwards")
	}
}

// Disconnect closes the channel but keeps the node record.
func TestWebSocket_DisconnectKeepsRecord(t *testing.T) {
	m := newTestManager(&fakeSender{})
	conn := dialControl(t, m)

	send(t, conn, "register", RegisterPayload{
		ID:           "n1",
		Address:      "a",
		Capabilities: []string{"ai_processing"},
		Weight:       1,
	})
	resp := send(t, conn, "disconnect", map[string]string{})
	if resp.Type != "disconnected" {
		t.Fatalf("response type = %q", resp.Type)
	}

	if _, ok := m.Node("n1"); !ok {
		t.Fatal("record deleted on disconnect")
	}
	if nodes := m.NodesForCapability(CapabilityAIProcessing); len(nodes) != 1 {
		t.Fatalf("capability index = %+v", nodes)
	}
}

func TestWebSocket_UnknownType(t *testing.T) {
	m := newTestManager(&fakeSender{})
	conn := dialControl(t, m)

	resp := send(t, conn, "bogus", map[string]string{})
	if resp.Type != "error" {
		t.Fatalf("response type = %q, want error", resp.Type)
	}
}
