// Package scheduler implements the opportunistic exchange scheduler
// (spec §4.6): cooldown gating, backoff, deterministic initiator
// election with role-swap, peer selection, and parallel per-transport
// dispatch under a whole-cycle deadline, grounded on the teacher's
// device.RoutineTUN/RoutineHandshake goroutine-per-concern management in
// device/peer.go and the cooldown/refill shape of ratelimiter/ratelimiter.go.
package scheduler

import (
	"context"
	"crypto/sha256"
	"sort"
	"sync"
	"time"

	"github.com/murmur/murmur-core/internal/config"
	"github.com/murmur/murmur-core/internal/history"
	"github.com/murmur/murmur-core/internal/logging"
	"github.com/murmur/murmur-core/internal/peerregistry"
)

// perTransportConcurrency bounds simultaneous outbound exchanges per
// transport kind within one cycle (spec §5 "Concurrency & Resource
// Model": bounded worker counts, never unbounded fan-out).
const perTransportConcurrency = 4

// Exchanger is the collaborator that actually drives one outbound
// exchange session to completion (spec §4.5). The scheduler only
// decides when and with whom; internal/exchange supplies this.
type Exchanger interface {
	RunAsInitiator(ctx context.Context, kind peerregistry.TransportKind, addr, peerPublicID string) (storeVersion uint64, err error)
}

// StoreVersioner reports the local message store's current version, so
// the scheduler can tell whether it has advanced since the last
// recorded attempt against a given peer without importing
// internal/store directly (spec §4.6 "Backoff": "if store_version has
// not changed since the last attempt... otherwise allow immediately").
type StoreVersioner interface {
	StoreVersion() uint64
}

// Scheduler runs exchange cycles against the known peer set.
type Scheduler struct {
	cfg      config.Source
	registry *peerregistry.Registry
	hist     *history.Tracker
	exch     Exchanger
	storeVer StoreVersioner
	log      logging.Logger
	selfID   string

	mu          sync.Mutex
	roundRobin  map[string]time.Time // peerID -> last_picked, for least-recently-picked ordering
	inboundSeen map[string]time.Time // peerID -> last inbound session start, for inbound deference
}

// New constructs a Scheduler bound to one device identity. storeVer may
// be nil in tests that never exercise the backoff-skip path.
func New(cfg config.Source, registry *peerregistry.Registry, hist *history.Tracker, exch Exchanger, storeVer StoreVersioner, log logging.Logger, selfDeviceID string) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		registry:    registry,
		hist:        hist,
		exch:        exch,
		storeVer:    storeVer,
		log:         log,
		selfID:      selfDeviceID,
		roundRobin:  make(map[string]time.Time),
		inboundSeen: make(map[string]time.Time),
	}
}

// NoteInboundSession records that a peer opened an inbound session just
// now, so this cycle (and the next, within inbound_grace) defers an
// outbound attempt to the same peer (spec §4.6 "Inbound deference").
func (s *Scheduler) NoteInboundSession(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboundSeen[peerID] = time.Now()
}

// ElectInitiator deterministically picks which of two device ids
// initiates an exchange when both are mutually reachable (spec §4.6
// "Initiator election"): sort the pair, hash the concatenation, and use
// the hash's high bit to choose which side of the sorted pair leads.
// Both peers reach the same answer without negotiation.
func ElectInitiator(selfID, peerID string) bool {
	ids := []string{selfID, peerID}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(ids[0] + ids[1]))
	initiator := ids[1]
	if sum[0]&0x80 != 0 {
		initiator = ids[0]
	}
	return initiator == selfID
}

// backoffDelay returns min(base*2^attempts, max) for attempts > 0, and 0
// when there have been no attempts: the reattempt delay used when the
// peer's store hasn't advanced since the last attempt (spec §4.6
// "Backoff").
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempts && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// candidate is one peer considered for this cycle's dispatch.
type candidate struct {
	publicID string
	addr     string
	kind     peerregistry.TransportKind
}

// RunCycle evaluates every known peer, applies cooldown/backoff/role
// rules, and dispatches the surviving candidates in parallel, bounded by
// perTransportConcurrency and a whole-cycle deadline (spec §4.6 "Whole-
// cycle deadline", default from config key scheduler.cycle_deadline).
func (s *Scheduler) RunCycle(ctx context.Context) {
	deadline := s.cfg.GetDuration(config.KeyCycleDeadline)
	cycleCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	candidates := s.selectCandidates()
	if len(candidates) == 0 {
		return
	}

	sems := make(map[peerregistry.TransportKind]chan struct{})
	var wg sync.WaitGroup
	for _, c := range candidates {
		c := c
		sem, ok := sems[c.kind]
		if !ok {
			sem = make(chan struct{}, perTransportConcurrency)
			sems[c.kind] = sem
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			s.dispatch(cycleCtx, c)
		}()
	}
	wg.Wait()
}

// selectCandidates walks the registry and the history table to decide
// which peers are eligible for an outbound attempt this cycle (spec
// §4.6 "Peer selection", "Cooldown", "Inbound deference").
func (s *Scheduler) selectCandidates() []candidate {
	cooldown := s.cfg.GetDuration(config.KeyCooldown)
	inboundGrace := s.cfg.GetDuration(config.KeyInboundGrace)
	backoffBase := s.cfg.GetDuration(config.KeyBackoffBase)
	backoffMax := s.cfg.GetDuration(config.KeyBackoffMax)
	roleSwapAt := s.cfg.GetInt(config.KeyRoleSwapThreshold)
	staleThreshold := s.cfg.GetDuration(config.KeyStaleThreshold)

	now := time.Now()
	nowMillis := now.UnixMilli()

	var out []candidate
	for _, p := range s.registry.Peers() {
		if !p.HandshakeCompleted {
			continue // cannot address an exchange to a still-prefix-only peer
		}
		if p.IsStale(staleThreshold) {
			continue
		}

		s.mu.Lock()
		lastInbound, hadInbound := s.inboundSeen[p.PublicID]
		s.mu.Unlock()
		if hadInbound && now.Sub(lastInbound) < inboundGrace {
			continue // defer to the peer, which likely initiates back
		}

		entry := s.hist.Get(p.PublicID)
		// Cooldown follows a completed exchange; after failed attempts the
		// backoff below decides when to retry.
		if entry.Attempts == 0 && entry.LastExchangeTime != 0 && nowMillis-entry.LastExchangeTime < cooldown.Milliseconds() {
			continue
		}
		if entry.Attempts > 0 && !s.storeAdvancedSince(entry.StoreVersion) {
			wait := backoffDelay(backoffBase, backoffMax, entry.Attempts)
			if nowMillis-entry.LastExchangeTime < wait.Milliseconds() {
				continue
			}
		}

		weInitiate := ElectInitiator(s.selfID, p.PublicID)
		if entry.ConsecutiveFailures >= roleSwapAt {
			weInitiate = !weInitiate // spec §4.6 "Role-swap": stuck pairs trade roles
		}
		if !weInitiate {
			continue // the peer is expected to initiate instead
		}

		kind, ok := s.registry.BestTransport(p.PublicID)
		if !ok {
			continue
		}
		addr := p.Transports[kind].Address
		if addr == "" {
			continue
		}
		out = append(out, candidate{publicID: p.PublicID, addr: addr, kind: kind})
	}
	return out
}

// storeAdvancedSince reports whether the local store has moved past the
// version recorded at the peer's last attempt, letting selectCandidates
// skip backoff and try again immediately (spec §4.6 "Backoff").
func (s *Scheduler) storeAdvancedSince(lastKnown uint64) bool {
	if s.storeVer == nil {
		return false
	}
	return s.storeVer.StoreVersion() != lastKnown
}

func (s *Scheduler) dispatch(ctx context.Context, c candidate) {
	now := time.Now().UnixMilli()
	s.hist.RecordAttempt(c.publicID, now)

	storeVersion, err := s.exch.RunAsInitiator(ctx, c.kind, c.addr, c.publicID)
	if err != nil {
		s.hist.RecordFailure(c.publicID)
		s.log.Debugw("outbound exchange failed", "peer", c.publicID, "transport", c.kind.String(), "err", err)
		return
	}
	s.hist.RecordSuccess(c.publicID, time.Now().UnixMilli(), storeVersion)
	s.log.Infow("outbound exchange completed", "peer", c.publicID, "transport", c.kind.String())
}
