// Package exchange implements the staged per-session protocol run over
// one transport.Session (spec §4.5): a symmetric PSI-Ca friend-set
// comparison, a count handshake, then symmetric message rounds. It is
// grounded on the teacher's device/noise-helpers.go handshake sequencing
// (a fixed message order driven by whichever side dialed) and its
// peer.go "only one handshake in flight per peer" discipline, adapted
// here to a JSON-framed session instead of Noise records.
package exchange

import (
	"context"

	"github.com/google/uuid"

	"github.com/murmur/murmur-core/internal/config"
	"github.com/murmur/murmur-core/internal/crypto"
	"github.com/murmur/murmur-core/internal/external"
	"github.com/murmur/murmur-core/internal/friendstore"
	"github.com/murmur/murmur-core/internal/logging"
	"github.com/murmur/murmur-core/internal/message"
	"github.com/murmur/murmur-core/internal/murmurerr"
	"github.com/murmur/murmur-core/internal/peerregistry"
	"github.com/murmur/murmur-core/internal/store"
	"github.com/murmur/murmur-core/internal/transport"
)

// Exchange drives both the initiator and responder sides of one
// exchange session (spec §4.5). One Exchange is shared across every
// session a device runs; Session state never outlives a single call.
type Exchange struct {
	cfg           config.Source
	store         *store.Store
	friends       *friendstore.Store
	transports    map[peerregistry.TransportKind]transport.Transport
	log           logging.Logger
	selfID        string
	notifications external.Notifications
}

// New constructs an Exchange bound to one device's store, friend list,
// and transport set. A nil notifications collaborator is replaced with
// external.NopNotifications.
func New(cfg config.Source, st *store.Store, fs *friendstore.Store, transports map[peerregistry.TransportKind]transport.Transport, notifications external.Notifications, log logging.Logger, selfDeviceID string) *Exchange {
	if notifications == nil {
		notifications = external.NopNotifications{}
	}
	return &Exchange{cfg: cfg, store: st, friends: fs, transports: transports, log: log, selfID: selfDeviceID, notifications: notifications}
}

// RunAsInitiator dials addr over the named transport and drives the
// client side of the protocol to completion, satisfying
// scheduler.Exchanger (spec §4.6 calls into §4.5).
func (e *Exchange) RunAsInitiator(ctx context.Context, kind peerregistry.TransportKind, addr, peerPublicID string) (uint64, error) {
	t, ok := e.transports[kind]
	if !ok {
		return 0, murmurerr.New(murmurerr.TransportError, "exchange.RunAsInitiator", "unknown transport kind")
	}
	sessCtx, cancel := context.WithTimeout(ctx, e.cfg.GetDuration(config.KeySessionTimeout))
	defer cancel()

	sess, err := t.Dial(sessCtx, addr)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	if err := e.runClient(sessCtx, sess, kind); err != nil {
		return 0, err
	}
	return e.store.StoreVersion(), nil
}

// HandleInbound drives the responder side of the protocol to completion
// for one accepted session (spec §4.5, §5 "Inbound sessions are served
// by per-transport listeners"). It never propagates an error to the
// caller; session failures are logged and the session closed, matching
// the "no guaranteed delivery" non-goal.
func (e *Exchange) HandleInbound(ctx context.Context, sess transport.Session) {
	defer sess.Close()
	sessCtx, cancel := context.WithTimeout(ctx, e.cfg.GetDuration(config.KeySessionTimeout))
	defer cancel()
	if err := e.runServer(sessCtx, sess); err != nil {
		e.log.Debugw("inbound exchange failed", "err", err, "peer", sess.RemoteAddr())
	}
}

// isSimplified reports whether kind runs the simplified protocol
// variant that skips PSI entirely (spec §4.5, §9(b) "Wi-Fi Direct
// simplified mode"): shared friend count is treated as 0 throughout.
// Incoming trust still goes through NewPriority with that zero count, so
// a new message is stored at the zero-shared floor multiplier and an
// existing message keeps its stored trust; trust is not carried over
// unchanged.
func isSimplified(kind peerregistry.TransportKind) bool {
	return kind == peerregistry.TransportWiFiDirect
}

// runClient drives the initiator side: PSI (if applicable), count
// exchange, then message rounds (spec §4.5 the 4-step sequence).
func (e *Exchange) runClient(ctx context.Context, sess transport.Session, kind peerregistry.TransportKind) error {
	profile := e.cfg.Profile()
	exchangeID := uuid.NewString()

	shared, err := e.clientPSI(sess, kind, exchangeID)
	if err != nil {
		return err
	}
	if profile.TrustEnabled && shared < profile.MinSharedFriends {
		return murmurerr.New(murmurerr.ProtocolAbort, "exchange.runClient", "shared friend count below minimum")
	}

	myFriends := e.friends.Count()
	outgoing := e.store.GetForExchange(shared, profile.MaxMessages)

	if err := message.WriteFrame(sess, message.CountFrame{Count: len(outgoing)}); err != nil {
		return err
	}
	var peerCount message.CountFrame
	if err := message.ReadFrame(sess, &peerCount); err != nil {
		return err
	}

	rounds := peerCount.Count
	if len(outgoing) > rounds {
		rounds = len(outgoing)
	}

	opts := message.EncodeOptions{
		IncludePseudonym: profile.IncludePseudonym,
		IncludeLatLong:   profile.IncludeLatLong,
	}
	newCount := 0
	for i := 0; i < rounds; i++ {
		out := message.ClientMessage{}
		if i < len(outgoing) {
			out.Messages = [][]byte{outgoing[i].ToWire(opts)}
		}
		if err := message.WriteFrame(sess, out); err != nil {
			return err
		}
		var in message.ClientMessage
		if err := message.ReadFrame(sess, &in); err != nil {
			return err
		}
		newCount += e.ingest(in.Messages, shared, myFriends)
	}
	if newCount > 0 {
		e.notifications.ShowNewMessages(newCount)
	}
	return nil
}

// clientPSI runs the initiator's half of the symmetric PSI-Ca exchange
// (spec §4.1, §4.5 step 1-2): both sides blind and exchange their own
// friend set, then both sides double-blind the other's set and reply,
// each computing common_friends from its own blinding exponent alone.
// Trust disabled by the active security profile, the simplified
// transport variant, or an empty local friend list all skip blinding
// and exchange empty frames, returning 0 without error.
func (e *Exchange) clientPSI(sess transport.Session, kind peerregistry.TransportKind, exchangeID string) (int, error) {
	profile := e.cfg.Profile()
	ids := e.friends.BlindableIDs()
	doPSI := profile.TrustEnabled && !isSimplified(kind) && len(ids) > 0

	var psi *crypto.PSIClient
	var blinded [][]byte
	if doPSI {
		var err error
		psi, err = crypto.NewPSIClient()
		if err != nil {
			return 0, err
		}
		blinded, err = psi.Blind(ids)
		if err != nil {
			return 0, err
		}
	}

	if err := message.WriteFrame(sess, message.ClientMessage{Friends: blinded, ExchangeID: exchangeID, PublicID: e.selfID}); err != nil {
		return 0, err
	}
	var peerCM message.ClientMessage
	if err := message.ReadFrame(sess, &peerCM); err != nil {
		return 0, err
	}

	if psi == nil || len(peerCM.Friends) == 0 {
		if err := message.WriteFrame(sess, message.ServerMessage{}); err != nil {
			return 0, err
		}
		var sm message.ServerMessage
		if err := message.ReadFrame(sess, &sm); err != nil {
			return 0, err
		}
		return 0, nil
	}

	reply, err := psi.Reply(peerCM.Friends)
	if err != nil {
		return 0, err
	}
	if err := message.WriteFrame(sess, message.ServerMessage{DBlind: reply.DoubleBlind, DHash: reply.SelfHashes}); err != nil {
		return 0, err
	}

	var sm message.ServerMessage
	if err := message.ReadFrame(sess, &sm); err != nil {
		return 0, err
	}
	if len(sm.DBlind) == 0 {
		return 0, nil
	}
	return psi.Cardinality(&crypto.ServerReply{DoubleBlind: sm.DBlind, SelfHashes: sm.DHash})
}

// runServer drives the responder side: the mirror image of clientPSI's
// symmetric PSI round, a count reply, then message rounds (spec §4.5's
// WAIT_CLIENT_FRIENDS -> WAIT_SERVER_MESSAGE -> WAIT_CLIENT_COUNT ->
// WAIT_CLIENT_MESSAGES sequence, viewed from the side that waits first).
// Every frame pair is written by the initiator first and read by the
// responder first, so the two sides never both try to write at once
// over one half-duplex session.
func (e *Exchange) runServer(ctx context.Context, sess transport.Session) error {
	profile := e.cfg.Profile()

	var cm message.ClientMessage
	if err := message.ReadFrame(sess, &cm); err != nil {
		return err
	}

	ownIDs := e.friends.BlindableIDs()
	doPSI := profile.TrustEnabled && len(ownIDs) > 0 && len(cm.Friends) > 0

	var psi *crypto.PSIClient
	var blinded [][]byte
	if doPSI {
		var err error
		psi, err = crypto.NewPSIClient()
		if err != nil {
			return err
		}
		blinded, err = psi.Blind(ownIDs)
		if err != nil {
			return err
		}
	}
	if err := message.WriteFrame(sess, message.ClientMessage{Friends: blinded}); err != nil {
		return err
	}

	var clientReply message.ServerMessage
	if err := message.ReadFrame(sess, &clientReply); err != nil {
		return err
	}

	shared := 0
	if psi != nil && len(clientReply.DBlind) > 0 {
		var err error
		shared, err = psi.Cardinality(&crypto.ServerReply{DoubleBlind: clientReply.DBlind, SelfHashes: clientReply.DHash})
		if err != nil {
			return err
		}
	}

	ownReply := message.ServerMessage{}
	if psi != nil && len(cm.Friends) > 0 {
		reply, err := psi.Reply(cm.Friends)
		if err != nil {
			return err
		}
		ownReply.DBlind = reply.DoubleBlind
		ownReply.DHash = reply.SelfHashes
	}
	if err := message.WriteFrame(sess, ownReply); err != nil {
		return err
	}

	if profile.TrustEnabled && shared < profile.MinSharedFriends {
		return murmurerr.New(murmurerr.ProtocolAbort, "exchange.runServer", "shared friend count below minimum")
	}

	myFriends := e.friends.Count()
	outgoing := e.store.GetForExchange(shared, profile.MaxMessages)

	var peerCount message.CountFrame
	if err := message.ReadFrame(sess, &peerCount); err != nil {
		return err
	}

	if err := message.WriteFrame(sess, message.CountFrame{Count: len(outgoing)}); err != nil {
		return err
	}

	rounds := peerCount.Count
	if len(outgoing) > rounds {
		rounds = len(outgoing)
	}

	newCount := 0
	for i := 0; i < rounds; i++ {
		var in message.ClientMessage
		if err := message.ReadFrame(sess, &in); err != nil {
			return err
		}
		newCount += e.ingest(in.Messages, shared, myFriends)

		out := message.ClientMessage{}
		if i < len(outgoing) {
			out.Messages = [][]byte{outgoing[i].ToWire(message.EncodeOptions{
				IncludePseudonym: profile.IncludePseudonym,
				IncludeLatLong:   profile.IncludeLatLong,
			})}
		}
		if err := message.WriteFrame(sess, out); err != nil {
			return err
		}
	}
	if newCount > 0 {
		e.notifications.ShowNewMessages(newCount)
	}
	return nil
}

// ingest decodes and stores each received wire message, recomputing
// trust from the shared-friend count measured for this session (spec
// §4.4 NewPriority, §4.3 Add's dedup/tombstone/heart-merge rules). It
// returns the count of messages that were genuinely new to this store,
// for the caller to surface through Notifications.
func (e *Exchange) ingest(raw [][]byte, shared, myFriends int) int {
	newCount := 0
	for _, b := range raw {
		m, err := message.FromWire(b)
		if err != nil {
			e.log.Debugw("dropping malformed incoming message", "err", err)
			continue
		}
		stored := 0.0
		if existing := e.store.Get(m.MessageID); existing != nil {
			stored = existing.TrustScore
		}
		m.SetTrust(message.NewPriority(m.TrustScore, stored, shared, myFriends))
		isNew, err := e.store.Add(m)
		if err != nil {
			e.log.Debugw("failed to store incoming message", "err", err)
			continue
		}
		if isNew {
			newCount++
		}
	}
	return newCount
}
