// Package tracker keeps the authoritative per-torrent peer state and
// implements announce semantics. Each info hash owns an independent bucket so
// that swarms never contend with each other.
package tracker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/protocol"
)

// AnnounceInterval is the number of seconds peers are told to wait between
// announces.
const AnnounceInterval = 60

// Announce event values.
const (
	EventStarted   = "started"
	EventCompleted = "completed"
	EventStopped   = "stopped"
)

// Peer is one registered swarm member. Identity within a swarm is PeerID.
type Peer struct {
	PeerID     string
	IP         string
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
}

// swarm is the ordered peer set for one info hash. Each swarm has its own
// lock; announce processing for one torrent never blocks another.
type swarm struct {
	mu    sync.RWMutex
	peers []Peer
}

// Registry maps info hashes to swarms. State is in-memory only and lost on
// restart; peers re-announce on their interval.
type Registry struct {
	log    *zap.Logger
	mu     sync.RWMutex
	swarms map[string]*swarm
}

// NewRegistry creates an empty Registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:    log,
		swarms: make(map[string]*swarm),
	}
}

// Announce applies one announce event and builds the response. Any event
// other than "stopped" upserts the peer: an existing entry with the same
// PeerID is removed and the new record appended (last write wins, no field
// merge). "stopped" removes the peer. The response lists every other peer in
// registry order; complete/incomplete count seeds and leechers among them.
//
// fallbackIP is used when the request carries no ip field, typically the
// announcing connection's remote host.
func (r *Registry) Announce(req *protocol.AnnounceRequest, fallbackIP string) *protocol.AnnounceResponse {
	ip := req.IP
	if ip == "" {
		ip = fallbackIP
	}
	if ip == "" {
		ip = "127.0.0.1"
	}

	peer := Peer{
		PeerID:     req.PeerID,
		IP:         ip,
		Port:       req.Port,
		Uploaded:   req.Uploaded,
		Downloaded: req.Downloaded,
		Left:       req.Left,
	}

	s := r.bucket(req.InfoHash)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.peers[:0]
	replaced := false
	for _, p := range s.peers {
		if p.PeerID == peer.PeerID {
			replaced = true
			continue
		}
		kept = append(kept, p)
	}
	s.peers = kept

	switch req.Event {
	case EventStopped:
		r.log.Info("peer unregistered",
			zap.String("info_hash", req.InfoHash),
			zap.String("peer_id", peer.PeerID))
	default:
		s.peers = append(s.peers, peer)
		if replaced {
			r.log.Debug("peer updated",
				zap.String("info_hash", req.InfoHash),
				zap.String("peer_id", peer.PeerID),
				zap.Uint64("left", peer.Left))
		} else {
			r.log.Info("peer registered",
				zap.String("info_hash", req.InfoHash),
				zap.String("peer_id", peer.PeerID),
				zap.String("ip", peer.IP),
				zap.Uint16("port", peer.Port))
		}
	}

	resp := &protocol.AnnounceResponse{
		Interval: AnnounceInterval,
		Peers:    []protocol.PeerAddr{},
	}
	for _, p := range s.peers {
		if p.PeerID == req.PeerID {
			continue
		}
		resp.Peers = append(resp.Peers, protocol.PeerAddr{IP: p.IP, Port: p.Port})
		if p.Left == 0 {
			resp.Complete++
		} else {
			resp.Incomplete++
		}
	}
	return resp
}

// bucket returns the swarm for infoHash, creating it if needed. The registry
// lock is held only for the map access, never during announce processing.
func (r *Registry) bucket(infoHash string) *swarm {
	r.mu.RLock()
	s, ok := r.swarms[infoHash]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.swarms[infoHash]; ok {
		return s
	}
	s = &swarm{}
	r.swarms[infoHash] = s
	return s
}

// Peers returns a snapshot of the swarm for infoHash in registry order.
func (r *Registry) Peers(infoHash string) []Peer {
	r.mu.RLock()
	s, ok := r.swarms[infoHash]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, len(s.peers))
	copy(out, s.peers)
	return out
}

// Stats summarizes registry contents for periodic logging.
type Stats struct {
	Swarms int
	Peers  int
}

// Stats counts swarms and registered peers.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st Stats
	st.Swarms = len(r.swarms)
	for _, s := range r.swarms {
		s.mu.RLock()
		st.Peers += len(s.peers)
		s.mu.RUnlock()
	}
	return st
}
