package message

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/murmur/murmur-core/internal/murmurerr"
)

func TestMessageWireRoundTrip(t *testing.T) {
	m := New("hello mesh", 1000)
	m.SetPriority(3)
	m.SetTrust(0.42)
	m.Pseudonym = "anon"
	m.LatLong = &LatLong{Lat: 1.5, Lng: -2.5}

	raw := m.ToWire(EncodeOptions{IncludePseudonym: true, IncludeLatLong: true})
	got, err := FromWire(raw)
	require.NoError(t, err)

	require.Equal(t, m.MessageID, got.MessageID)
	require.Equal(t, m.Text, got.Text)
	require.Equal(t, m.Priority, got.Priority)
	require.InDelta(t, m.TrustScore, got.TrustScore, 1e-9)
	require.Equal(t, m.Pseudonym, got.Pseudonym)
	require.Equal(t, m.HopCount+1, got.HopCount) // hop is transmitted as hop+1
}

func TestFromWireDefaults(t *testing.T) {
	raw := []byte(`{"messageId":"abc","text":"hi","priority":0,"hop":0,"min_users_p_hop":0}`)
	m, err := FromWire(raw)
	require.NoError(t, err)
	require.Equal(t, 0.01, m.TrustScore) // missing trust defaults to 0.01
	require.True(t, m.Timestamp > 0)     // missing ts defaults to now
}

func TestClientServerMessageRoundTrip(t *testing.T) {
	cm := ClientMessage{
		Messages: [][]byte{[]byte(`{"messageId":"a"}`)},
		Friends:  [][]byte{{1, 2, 3}, {4, 5, 6}},
		PublicID: "deadbeef",
	}
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, cm))

	var got ClientMessage
	require.NoError(t, ReadFrame(&buf, &got))
	require.Equal(t, cm.Friends, got.Friends)
	require.Equal(t, cm.PublicID, got.PublicID)

	sm := ServerMessage{DBlind: [][]byte{{9, 9}}, DHash: [][]byte{{1}}}
	buf.Reset()
	require.NoError(t, WriteFrame(&buf, sm))
	var gotSM ServerMessage
	require.NoError(t, ReadFrame(&buf, &gotSM))
	require.Equal(t, sm.DBlind, gotSM.DBlind)
}

func TestReadFrameRejectsLengthMismatch(t *testing.T) {
	// Length prefix claims 10000 bytes but only 20 are present (spec §8 S6).
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x27, 0x10}) // 10000
	buf.Write(make([]byte, 20))

	var cm ClientMessage
	err := ReadFrame(&buf, &cm)
	require.Error(t, err)
	require.Equal(t, murmurerr.InvalidInput, murmurerr.KindOf(err))
}

func TestCombinedPriorityOrdering(t *testing.T) {
	high := Combined(0.9, 10, 0)
	low := Combined(0.1, 0, 10*24*60*60*1000)
	require.Greater(t, high, low)
}

func TestTrustGateCapsLowTrustPriority(t *testing.T) {
	v := Combined(0.1, 1000, 0)
	require.LessOrEqual(t, v, 0.3)
}

func TestNewPriorityNeverLowersStoredTrust(t *testing.T) {
	stored := 0.8
	result := NewPriority(0.1, stored, 0, 10)
	require.GreaterOrEqual(t, result, stored)
}
