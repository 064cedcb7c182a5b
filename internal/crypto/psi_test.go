package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("alice@example.com"),
		{0x00, 0x01, 0x02},
		make([]byte, 200), // oversized, must re-canonicalize
	}
	for _, v := range cases {
		c1 := Canonical(v)
		c2 := Canonical(c1)
		require.Equal(t, c1, c2, "canonicalizing an already-canonical value must be a no-op")
		require.Len(t, c1, CanonicalSize)
	}
}

func TestPSICardinalityCorrectness(t *testing.T) {
	a := [][]byte{[]byte("f1"), []byte("f2"), []byte("f3"), []byte("f4")}
	b := [][]byte{[]byte("f2"), []byte("f3"), []byte("f5")}
	wantIntersection := 2

	client, err := NewPSIClient()
	require.NoError(t, err)
	server, err := NewPSIClient()
	require.NoError(t, err)

	clientBlinded, err := client.Blind(a)
	require.NoError(t, err)

	serverBlinded, err := server.Blind(b)
	require.NoError(t, err)

	// Client computes cardinality of its own set against server's.
	reply, err := server.Reply(clientBlinded)
	require.NoError(t, err)
	got, err := client.Cardinality(reply)
	require.NoError(t, err)
	require.Equal(t, wantIntersection, got)

	// Symmetric direction.
	reply2, err := client.Reply(serverBlinded)
	require.NoError(t, err)
	got2, err := server.Cardinality(reply2)
	require.NoError(t, err)
	require.Equal(t, wantIntersection, got2)
}

func TestPSIFailsOnInvalidInput(t *testing.T) {
	client, err := NewPSIClient()
	require.NoError(t, err)

	_, err = client.Blind(nil)
	require.Error(t, err)

	_, err = client.Cardinality(nil)
	require.Error(t, err)

	_, err = client.Cardinality(&ServerReply{})
	require.Error(t, err)
}

func TestDeviceIDStableAcrossCalls(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	id1 := DeviceID(pub)
	id2 := DeviceID(pub)
	require.Equal(t, id1, id2)
	require.Len(t, id1, 16) // 8 bytes hex-encoded
}
