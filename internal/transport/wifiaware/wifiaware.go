// Package wifiaware is the Wi-Fi Aware transport's core-facing surface.
// Like wifidirect, it advertises via service-name "_murmur._tcp" with
// TXT entries id/port/ver (spec §6); the NAN radio calls themselves are
// an out-of-scope OS driver (spec §1). Wi-Fi Aware ranks highest in
// peerregistry.BestTransport (spec §4.7).
package wifiaware

import (
	"github.com/murmur/murmur-core/internal/peerregistry"
	"github.com/murmur/murmur-core/internal/transport"
)

// New constructs the Wi-Fi Aware transport.
func New() *transport.Stub {
	return transport.NewStub(peerregistry.TransportWiFiAware, 32)
}
