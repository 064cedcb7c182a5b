package message

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/murmur/murmur-core/internal/murmurerr"
)

// MaxFrameSize bounds the length prefix so a malicious or corrupt peer
// cannot force an unbounded allocation (spec §8 S6 "framing attack").
const MaxFrameSize = 4 << 20 // 4 MiB

// wireMessage is the JSON shape of a single message on the wire
// (spec §4.2). Keys are fixed and MUST be preserved bit-for-bit.
type wireMessage struct {
	MessageID    string   `json:"messageId"`
	Text         string   `json:"text"`
	Trust        *float64 `json:"trust,omitempty"`
	Priority     int      `json:"priority"`
	Pseudonym    *string  `json:"pseudonym,omitempty"`
	LatLong      *LatLong `json:"latlang,omitempty"`
	TimeBound    int64    `json:"timebound"`
	Parent       string   `json:"parent,omitempty"`
	BigParent    string   `json:"bigparent,omitempty"`
	Hop          int      `json:"hop"`
	MinUsersHop  int      `json:"min_users_p_hop"`
	Timestamp    *int64   `json:"ts,omitempty"`
}

// EncodeOptions controls which optional fields are serialized,
// following the active security profile (spec §4.2 "Include pseudonym
// /latlang only when the active security profile permits").
type EncodeOptions struct {
	IncludePseudonym bool
	IncludeLatLong   bool
	Trust            *float64 // per-peer trust to send; nil sends m.TrustScore
}

// ToWire renders m according to opts, applying the serializer rules from
// spec §4.2: hop is transmitted as hop+1, ts/priority/messageId/text/
// min_users_p_hop are always emitted.
func (m *Message) ToWire(opts EncodeOptions) []byte {
	w := wireMessage{
		MessageID:   m.MessageID,
		Text:        m.Text,
		Priority:    m.Priority,
		TimeBound:   m.ExpirationTime,
		Parent:      m.ParentID,
		BigParent:   m.BigParentID,
		Hop:         m.HopCount + 1,
		MinUsersHop: m.MinContactsForHop,
	}
	ts := m.Timestamp
	w.Timestamp = &ts
	if opts.Trust != nil {
		w.Trust = opts.Trust
	} else {
		t := m.TrustScore
		w.Trust = &t
	}
	if opts.IncludePseudonym && m.Pseudonym != "" {
		p := m.Pseudonym
		w.Pseudonym = &p
	}
	if opts.IncludeLatLong && m.LatLong != nil {
		w.LatLong = m.LatLong
	}
	b, _ := json.Marshal(w)
	return b
}

// FromWire parses a single message JSON object. Missing "ts" defaults to
// now; missing "trust" defaults to 0.01 (spec §4.2 parser rule).
func FromWire(raw []byte) (*Message, error) {
	var w wireMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, murmurerr.Wrap(murmurerr.InvalidInput, "message.FromWire", err)
	}
	if w.MessageID == "" {
		return nil, murmurerr.New(murmurerr.InvalidInput, "message.FromWire", "missing messageId")
	}
	m := &Message{
		MessageID:          w.MessageID,
		Priority:           w.Priority,
		ExpirationTime:     w.TimeBound,
		ParentID:           w.Parent,
		BigParentID:        w.BigParent,
		MinContactsForHop:  w.MinUsersHop,
		LatLong:            w.LatLong,
	}
	m.SetText(w.Text)
	m.SetHopCount(w.Hop)
	if w.Trust != nil {
		m.SetTrust(*w.Trust)
	} else {
		m.SetTrust(0.01)
	}
	if w.Pseudonym != nil {
		m.Pseudonym = *w.Pseudonym
	}
	if w.Timestamp != nil {
		m.Timestamp = *w.Timestamp
	} else {
		m.Timestamp = NowMillis()
	}
	return m, nil
}

// ClientMessage is the PSI-init and message-round envelope (spec §4.2).
// Both sides send it; only the initiator sets ExchangeID and PublicID.
type ClientMessage struct {
	Messages      [][]byte `json:"messages"`
	Friends       [][]byte `json:"friends"`
	DeviceIDHash  string   `json:"device_id_hash,omitempty"`
	ExchangeID    string   `json:"exchange_id,omitempty"`
	PublicID      string   `json:"public_id,omitempty"`
}

type clientMessageWire struct {
	Messages     []json.RawMessage `json:"messages"`
	Friends      []string          `json:"friends"`
	DeviceIDHash string            `json:"device_id_hash,omitempty"`
	ExchangeID   string            `json:"exchange_id,omitempty"`
	PublicID     string            `json:"public_id,omitempty"`
}

// MarshalJSON base64-encodes message and friend byte payloads, matching
// spec §4.2's `{messages: [<msgJson>...], friends: [base64(blindedItem)...]}`.
func (c ClientMessage) MarshalJSON() ([]byte, error) {
	w := clientMessageWire{
		DeviceIDHash: c.DeviceIDHash,
		ExchangeID:   c.ExchangeID,
		PublicID:     c.PublicID,
	}
	w.Messages = make([]json.RawMessage, len(c.Messages))
	for i, m := range c.Messages {
		w.Messages[i] = json.RawMessage(m)
	}
	w.Friends = make([]string, len(c.Friends))
	for i, f := range c.Friends {
		w.Friends[i] = base64.StdEncoding.EncodeToString(f)
	}
	return json.Marshal(w)
}

func (c *ClientMessage) UnmarshalJSON(data []byte) error {
	var w clientMessageWire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	c.Messages = make([][]byte, len(w.Messages))
	for i, m := range w.Messages {
		c.Messages[i] = []byte(m)
	}
	c.Friends = make([][]byte, len(w.Friends))
	for i, f := range w.Friends {
		b, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			return err
		}
		c.Friends[i] = b
	}
	c.DeviceIDHash = w.DeviceIDHash
	c.ExchangeID = w.ExchangeID
	c.PublicID = w.PublicID
	return nil
}

// ServerMessage is the PSI-exchange response envelope (spec §4.2).
type ServerMessage struct {
	DBlind [][]byte `json:"dblind"`
	DHash  [][]byte `json:"dhash"`
}

type serverMessageWire struct {
	DBlind []string `json:"dblind"`
	DHash  []string `json:"dhash"`
}

func (s ServerMessage) MarshalJSON() ([]byte, error) {
	w := serverMessageWire{
		DBlind: encodeAll(s.DBlind),
		DHash:  encodeAll(s.DHash),
	}
	return json.Marshal(w)
}

func (s *ServerMessage) UnmarshalJSON(data []byte) error {
	var w serverMessageWire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	var err error
	if s.DBlind, err = decodeAll(w.DBlind); err != nil {
		return err
	}
	if s.DHash, err = decodeAll(w.DHash); err != nil {
		return err
	}
	return nil
}

func encodeAll(items [][]byte) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = base64.StdEncoding.EncodeToString(it)
	}
	return out
}

func decodeAll(items []string) ([][]byte, error) {
	out := make([][]byte, len(items))
	for i, it := range items {
		b, err := base64.StdEncoding.DecodeString(it)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// CountFrame is the short exchange-info frame `{count: N}` that
// transmits the outbound message count (spec §4.2).
type CountFrame struct {
	Count int `json:"count"`
}

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// JSON payload (spec §4.2). v is marshaled with encoding/json, a strict
// schema parser per spec §9 Dynamic JSON note — never duck-typed lookup.
func WriteFrame(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return murmurerr.Wrap(murmurerr.InvalidInput, "message.WriteFrame", err)
	}
	return WriteFrameBytes(w, payload)
}

// WriteFrameBytes writes a 4-byte big-endian length prefix followed by
// the raw payload bytes; transports use this directly so the same
// framing invariant applies whether or not the caller has JSON in hand.
func WriteFrameBytes(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return murmurerr.New(murmurerr.InvalidInput, "message.WriteFrameBytes", "payload exceeds max frame size")
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return murmurerr.Wrap(murmurerr.TransportError, "message.WriteFrameBytes", err)
	}
	if _, err := w.Write(payload); err != nil {
		return murmurerr.Wrap(murmurerr.TransportError, "message.WriteFrameBytes", err)
	}
	return nil
}

// ReadFrame reads a length-prefixed JSON payload and unmarshals it into
// v. It rejects frames whose prefix disagrees with the remaining length
// (spec §4.2, §8 property 5, §8 S6).
func ReadFrame(r io.Reader, v interface{}) error {
	body, err := ReadFrameBytes(r)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return murmurerr.Wrap(murmurerr.InvalidInput, "message.ReadFrame", err)
	}
	return nil
}

// ReadFrameBytes reads one length-prefixed frame and returns its raw
// body, rejecting a prefix that disagrees with the bytes actually
// available (spec §8 S6 "framing attack").
func ReadFrameBytes(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, murmurerr.Wrap(murmurerr.TransportError, "message.ReadFrameBytes", err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return nil, murmurerr.New(murmurerr.InvalidInput, "message.ReadFrameBytes", fmt.Sprintf("length prefix %d exceeds max frame size", length))
	}
	body := make([]byte, length)
	n, err := io.ReadFull(r, body)
	if err != nil || n != int(length) {
		return nil, murmurerr.New(murmurerr.InvalidInput, "message.ReadFrameBytes", "length prefix disagrees with body length")
	}
	return body, nil
}
