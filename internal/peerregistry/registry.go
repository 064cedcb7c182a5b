// Package peerregistry unifies peer discoveries across transports into
// a single record per public_id (spec §4.7), the way
// golang.zx2c4.com/wireguard/device.Device keeps a concurrent
// map[NoisePublicKey]*Peer behind device.peers.RWMutex instead of one
// map per interface.
package peerregistry

import (
	"sync"
	"time"
)

// TransportKind names a radio/link the engine can discover peers over
// (spec §2 "Transport Abstraction"). The concrete radio is out of
// scope; only the ordering and invariants below are.
type TransportKind int

const (
	TransportBLE TransportKind = iota
	TransportLAN
	TransportWiFiDirect
	TransportWiFiAware
)

func (k TransportKind) String() string {
	switch k {
	case TransportBLE:
		return "ble"
	case TransportLAN:
		return "lan"
	case TransportWiFiDirect:
		return "wifi_direct"
	case TransportWiFiAware:
		return "wifi_aware"
	default:
		return "unknown"
	}
}

// bandwidthRank orders transports for BestTransport, highest first
// (spec §4.7): Wi-Fi Aware > Wi-Fi Direct > LAN > BLE.
var bandwidthRank = map[TransportKind]int{
	TransportWiFiAware:  4,
	TransportWiFiDirect: 3,
	TransportLAN:        2,
	TransportBLE:        1,
}

// TransportEntry is one transport's view of a peer (spec §3 "Peer record").
type TransportEntry struct {
	Address         string
	LastSeen        time.Time
	SignalStrength  *int
	Port            *int
}

// Peer is the unified peer record (spec §3 "Peer record (unified)").
// public_id may begin as a short BLE-advertisement prefix and later be
// promoted to the authoritative full id after a handshake.
type Peer struct {
	PublicID           string
	Transports         map[TransportKind]TransportEntry
	HandshakeCompleted bool
}

func (p *Peer) clone() *Peer {
	cp := &Peer{PublicID: p.PublicID, HandshakeCompleted: p.HandshakeCompleted}
	cp.Transports = make(map[TransportKind]TransportEntry, len(p.Transports))
	for k, v := range p.Transports {
		cp.Transports[k] = v
	}
	return cp
}

// Registry is the process-wide, thread-safe peer unification table
// (spec §4.7). Construct one at startup and pass it down explicitly
// (spec §9 "Singletons": avoid implicit global state).
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer // keyed by public_id (full or prefix, until merged)
}

func New() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// ReportPeer upserts a transport entry on a peer, creating the peer
// record on first discovery (spec §4.7 report_<T>_peer).
func (r *Registry) ReportPeer(kind TransportKind, publicID, address string, signal, port *int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.resolveLocked(publicID)
	if target == nil {
		target = &Peer{PublicID: publicID, Transports: make(map[TransportKind]TransportEntry)}
		r.peers[publicID] = target
	}
	entry := target.Transports[kind]
	entry.Address = address
	entry.LastSeen = time.Now() // monotonically advanced by rediscovery only (spec §3 invariant)
	if signal != nil {
		entry.SignalStrength = signal
	}
	if port != nil {
		entry.Port = port
	}
	target.Transports[kind] = entry
}

// resolveLocked finds an existing record by exact id or, failing that,
// a record whose prefix matches publicID (or vice versa), implementing
// the "short prefixes match authoritative ids by prefix" invariant
// (spec §3, §4.7) without yet merging.
func (r *Registry) resolveLocked(publicID string) *Peer {
	if p, ok := r.peers[publicID]; ok {
		return p
	}
	for id, p := range r.peers {
		if isPrefixMatch(id, publicID) {
			return p
		}
	}
	return nil
}

func isPrefixMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	return len(shorter) >= 8 && len(longer) >= len(shorter) && longer[:len(shorter)] == shorter
}

// UpdatePeerIDAfterHandshake merges the temporary per-transport record
// keyed by a short prefix (tempKey) into the authoritative record keyed
// by publicID, reconciling duplicates (spec §4.7).
func (r *Registry) UpdatePeerIDAfterHandshake(tempKey, publicID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	temp, tempOK := r.peers[tempKey]
	if !tempOK || tempKey == publicID {
		if p, ok := r.peers[publicID]; ok {
			p.HandshakeCompleted = true
		}
		return
	}

	authoritative, authOK := r.peers[publicID]
	if !authOK {
		temp.PublicID = publicID
		temp.HandshakeCompleted = true
		r.peers[publicID] = temp
		delete(r.peers, tempKey)
		return
	}

	for kind, entry := range temp.Transports {
		existing, has := authoritative.Transports[kind]
		if !has || entry.LastSeen.After(existing.LastSeen) {
			authoritative.Transports[kind] = entry
		}
	}
	authoritative.HandshakeCompleted = true
	delete(r.peers, tempKey)
}

// PruneStale drops transport entries older than threshold and deletes
// peers left with no transports (spec §4.7 prune_stale).
func (r *Registry) PruneStale(threshold time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	for id, p := range r.peers {
		for kind, entry := range p.Transports {
			if entry.LastSeen.Before(cutoff) {
				delete(p.Transports, kind)
			}
		}
		if len(p.Transports) == 0 {
			delete(r.peers, id)
		}
	}
}

// IsStale reports whether every transport entry on p is older than
// threshold (spec §3 "Stale peer").
func (p *Peer) IsStale(threshold time.Duration) bool {
	if len(p.Transports) == 0 {
		return true
	}
	cutoff := time.Now().Add(-threshold)
	for _, entry := range p.Transports {
		if entry.LastSeen.After(cutoff) {
			return false
		}
	}
	return true
}

// BestTransport returns the highest-bandwidth transport currently
// available for publicID (spec §4.7), or false if the peer is unknown.
func (r *Registry) BestTransport(publicID string) (TransportKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[publicID]
	if !ok || len(p.Transports) == 0 {
		return 0, false
	}
	best := TransportBLE
	bestRank := -1
	for kind := range p.Transports {
		if rank := bandwidthRank[kind]; rank > bestRank {
			bestRank = rank
			best = kind
		}
	}
	return best, true
}

// Peers returns a point-in-time snapshot for the scheduler and any
// observer (e.g. a UI peer list), per spec §4.7 "Observable peer list".
func (r *Registry) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.clone())
	}
	return out
}

// Get returns a snapshot of a single peer, or nil if unknown.
func (r *Registry) Get(publicID string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.peers[publicID]; ok {
		return p.clone()
	}
	return nil
}
