// Package message implements the Message record (spec §3), its
// combined-priority and trust computations (spec §4.3-§4.4), and the
// length-prefixed JSON wire codec (spec §4.2).
package message

import (
	"time"

	"github.com/google/uuid"
)

// MaxTextLength is the hard cap on Message.Text (spec §3).
const MaxTextLength = 140

// LatLong is an optional coarse location attached to a message.
type LatLong struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Message is the engine's unit of exchange (spec §3). Fields marked
// "local-only" never cross the wire and are zero-valued on receipt.
type Message struct {
	MessageID         string // UUID, identity
	Text              string
	TrustScore        float64 // [0,1]
	Priority          int     // heart/endorsement count, wire "priority"
	Liked             bool    // local-only
	Pseudonym         string  // optional
	Timestamp         int64   // creation, ms since epoch
	ReceivedTimestamp int64   // local receipt, ms; 0 until stored, local-only
	Read              bool    // local-only
	HopCount          int
	MinContactsForHop int
	ExpirationTime    int64 // duration ms; 0 = never
	LatLong           *LatLong
	ParentID          string
	BigParentID       string
}

// New constructs a Message with a fresh UUID and clamped invariants
// applied, for locally-authored messages (spec §3 "created locally").
func New(text string, now int64) *Message {
	m := &Message{
		MessageID: uuid.NewString(),
		Timestamp: now,
	}
	m.SetText(text)
	return m
}

// SetText truncates text to MaxTextLength, per spec §3 invariant.
func (m *Message) SetText(text string) {
	r := []rune(text)
	if len(r) > MaxTextLength {
		r = r[:MaxTextLength]
	}
	m.Text = string(r)
}

// SetTrust clamps trust to [0,1], per spec §3 invariant.
func (m *Message) SetTrust(trust float64) {
	m.TrustScore = clamp01(trust)
}

// SetPriority clamps priority to >= 0, per spec §3 invariant.
func (m *Message) SetPriority(p int) {
	if p < 0 {
		p = 0
	}
	m.Priority = p
}

// SetHopCount clamps hop count to >= 0, per spec §3 invariant.
func (m *Message) SetHopCount(h int) {
	if h < 0 {
		h = 0
	}
	m.HopCount = h
}

// Expired reports whether m has passed its expiration deadline relative
// to now (ms since epoch). expiration_time == 0 means "never expires".
func (m *Message) Expired(now int64) bool {
	return m.ExpirationTime > 0 && now > m.Timestamp+m.ExpirationTime
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clone returns a deep copy so the store never hands out a pointer a
// caller could mutate behind its back.
func (m *Message) Clone() *Message {
	cp := *m
	if m.LatLong != nil {
		ll := *m.LatLong
		cp.LatLong = &ll
	}
	return &cp
}

// NowMillis is the single clock murmur-core's domain code calls, so
// tests can stub it deterministically.
var NowMillis = func() int64 { return time.Now().UnixMilli() }
