package peerregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReportPeerCreatesAndUpdates(t *testing.T) {
	r := New()
	r.ReportPeer(TransportLAN, "fullid123456", "10.0.0.5:9999", nil, nil)
	p := r.Get("fullid123456")
	require.NotNil(t, p)
	require.Contains(t, p.Transports, TransportLAN)
}

func TestPrefixMergeOnHandshake(t *testing.T) {
	r := New()
	r.ReportPeer(TransportBLE, "deadbeef", "ble://xyz", nil, nil)
	r.UpdatePeerIDAfterHandshake("deadbeef", "deadbeefcafefeed0011")

	p := r.Get("deadbeefcafefeed0011")
	require.NotNil(t, p)
	require.True(t, p.HandshakeCompleted)
	require.Nil(t, r.Get("deadbeef"))
}

func TestBestTransportRank(t *testing.T) {
	r := New()
	r.ReportPeer(TransportBLE, "abc12345", "ble", nil, nil)
	r.ReportPeer(TransportLAN, "abc12345", "1.2.3.4", nil, nil)
	r.ReportPeer(TransportWiFiAware, "abc12345", "aware", nil, nil)

	kind, ok := r.BestTransport("abc12345")
	require.True(t, ok)
	require.Equal(t, TransportWiFiAware, kind)
}

func TestPruneStaleRemovesPeerWithNoTransports(t *testing.T) {
	r := New()
	r.ReportPeer(TransportLAN, "stalepeer01", "1.2.3.4", nil, nil)
	r.mu.Lock()
	entry := r.peers["stalepeer01"].Transports[TransportLAN]
	entry.LastSeen = time.Now().Add(-time.Hour)
	r.peers["stalepeer01"].Transports[TransportLAN] = entry
	r.mu.Unlock()

	r.PruneStale(30 * time.Second)
	require.Nil(t, r.Get("stalepeer01"))
}
