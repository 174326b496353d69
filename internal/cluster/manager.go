// Package cluster implements weighted work distribution: a table of delegate
// nodes keyed by capability, load-aware weighted selection, and request
// forwarding through the transport client.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Capability labels a kind of work a node can perform.
type Capability string

const (
	CapabilityAIProcessing Capability = "ai_processing"
	CapabilityFileServing  Capability = "file_serving"
	CapabilityTracker      Capability = "tracker"
)

// ErrNoAvailableNode means no registered node can currently take the work.
var ErrNoAvailableNode = errors.New("no available node for capability")

// NodeRecord describes one delegate node. Records are created on first
// registration, replaced wholesale on re-registration, and never deleted;
// there is no staleness pruning (a node that stops heartbeating simply keeps
// its last state).
type NodeRecord struct {
	ID             string
	Address        string // QUIC endpoint, host:port
	Capabilities   []Capability
	Weight         float64
	LastSeen       time.Time
	ActiveRequests int
	MaxConcurrent  int
}

// DefaultMaxConcurrent applies when a registration leaves MaxConcurrent unset.
const DefaultMaxConcurrent = 100

func (n *NodeRecord) hasCapability(c Capability) bool {
	for _, cap := range n.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// available reports whether the node can take one more request.
func (n *NodeRecord) available() bool {
	return n.ActiveRequests < n.MaxConcurrent
}

// effectiveWeight scales the declared weight by the node's free capacity:
// weight × (1 − active/max), with a load factor of 1 when max is zero.
func (n *NodeRecord) effectiveWeight() float64 {
	if n.MaxConcurrent <= 0 {
		return n.Weight
	}
	return n.Weight * (1 - float64(n.ActiveRequests)/float64(n.MaxConcurrent))
}

// Sender forwards a raw request payload to a remote node and returns the raw
// response. The transport client satisfies this.
type Sender interface {
	Do(ctx context.Context, addr string, payload []byte) ([]byte, error)
}

// Manager owns the node table and the capability index. The index holds node
// ids in registration order per capability; it is fully resynced on every
// registration so stale associations never linger.
type Manager struct {
	log    *zap.Logger
	sender Sender

	mu           sync.RWMutex
	nodes        map[string]*NodeRecord
	byCapability map[Capability][]string

	// randFloat returns a value in [0,1); replaceable for deterministic tests.
	randFloat func() float64
}

// NewManager creates a Manager that forwards delegated work through sender.
func NewManager(log *zap.Logger, sender Sender) *Manager {
	return &Manager{
		log:          log,
		sender:       sender,
		nodes:        make(map[string]*NodeRecord),
		byCapability: make(map[Capability][]string),
		randFloat:    rand.Float64,
	}
}

// RegisterNode inserts or replaces the record for rec.ID and resyncs the
// capability index: old bucket entries are pruned before the new capability
// set is added. Registering the same record twice is a no-op beyond
// refreshing LastSeen.
func (m *Manager) RegisterNode(rec NodeRecord) {
	if rec.MaxConcurrent <= 0 {
		rec.MaxConcurrent = DefaultMaxConcurrent
	}
	rec.LastSeen = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.nodes[rec.ID]; ok {
		rec.ActiveRequests = old.ActiveRequests
		for _, c := range old.Capabilities {
			m.byCapability[c] = removeID(m.byCapability[c], rec.ID)
		}
	}
	for _, c := range rec.Capabilities {
		m.byCapability[c] = append(m.byCapability[c], rec.ID)
	}
	m.nodes[rec.ID] = &rec

	m.log.Info("node registered",
		zap.String("node_id", rec.ID),
		zap.String("address", rec.Address),
		zap.Float64("weight", rec.Weight),
		zap.Int("max_concurrent", rec.MaxConcurrent))
}

// Heartbeat refreshes a node's LastSeen timestamp.
func (m *Manager) Heartbeat(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[nodeID]; ok {
		n.LastSeen = time.Now()
	}
}

// Node returns a copy of the record for nodeID.
func (m *Manager) Node(nodeID string) (NodeRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return NodeRecord{}, false
	}
	return *n, true
}

// SelectNode picks a delegate for the capability with a weighted-random draw
// over effective weights. Candidates are the indexed nodes that still hold
// the capability and have free capacity, considered in index order. If the
// draw lands nowhere (all weights zero, rounding), the first candidate wins;
// a non-empty candidate set never fails.
func (m *Manager) SelectNode(c Capability) (NodeRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*NodeRecord
	total := 0.0
	for _, id := range m.byCapability[c] {
		n, ok := m.nodes[id]
		if !ok || !n.hasCapability(c) || !n.available() {
			continue
		}
		candidates = append(candidates, n)
		total += n.effectiveWeight()
	}
	if len(candidates) == 0 {
		return NodeRecord{}, false
	}

	if total > 0 {
		draw := m.randFloat() * total
		for _, n := range candidates {
			draw -= n.effectiveWeight()
			if draw <= 0 {
				return *n, true
			}
		}
	}
	return *candidates[0], true
}

// Delegate forwards payload to a node selected for the capability and returns
// the transport result unchanged. The chosen node's in-flight count is
// incremented for the duration of the call and released on every path;
// LastSeen is refreshed whether the call succeeded or failed.
func (m *Manager) Delegate(ctx context.Context, c Capability, payload []byte) ([]byte, error) {
	selected, ok := m.SelectNode(c)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAvailableNode, c)
	}

	m.adjustLoad(selected.ID, +1)
	defer func() {
		m.adjustLoad(selected.ID, -1)
		m.Heartbeat(selected.ID)
	}()

	m.log.Info("delegating work",
		zap.String("capability", string(c)),
		zap.String("node_id", selected.ID),
		zap.String("address", selected.Address),
		zap.Float64("weight", selected.Weight),
		zap.Int("active", selected.ActiveRequests),
		zap.Int("max_concurrent", selected.MaxConcurrent))

	response, err := m.sender.Do(ctx, selected.Address, payload)
	if err != nil {
		m.log.Warn("delegation failed",
			zap.String("node_id", selected.ID),
			zap.Error(err))
		return nil, err
	}
	m.log.Debug("delegation complete",
		zap.String("node_id", selected.ID),
		zap.Int("response_bytes", len(response)))
	return response, nil
}

func (m *Manager) adjustLoad(nodeID string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[nodeID]; ok {
		n.ActiveRequests += delta
		if n.ActiveRequests < 0 {
			n.ActiveRequests = 0
		}
	}
}

// NodesForCapability returns copies of the records indexed under c, in index
// order.
func (m *Manager) NodesForCapability(c Capability) []NodeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []NodeRecord
	for _, id := range m.byCapability[c] {
		if n, ok := m.nodes[id]; ok {
			out = append(out, *n)
		}
	}
	return out
}

// Stats summarizes the node table for periodic logging.
type Stats struct {
	Nodes    int
	InFlight int
}

// Stats counts registered nodes and in-flight delegated requests.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st Stats
	st.Nodes = len(m.nodes)
	for _, n := range m.nodes {
		st.InFlight += n.ActiveRequests
	}
	return st
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
