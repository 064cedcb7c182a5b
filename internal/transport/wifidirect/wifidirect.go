// Package wifidirect is the Wi-Fi Direct transport's core-facing
// surface. It advertises via service-name "_murmur._tcp" with TXT
// entries id=<first-8-hex>, port=<int>, ver=1 (spec §6); the actual P2P
// group-formation radio calls are an out-of-scope OS driver (spec §1).
//
// Wi-Fi Direct additionally supports a "simplified mode" (spec §4.5,
// §9(b)): PSI is skipped entirely, shared friend count is treated as 0,
// and trust preservation relies on incoming trust being non-decreasing
// (message.NewPriority's monotonicity). internal/exchange's initiator
// skips PSI on every Wi-Fi Direct session, which leaves the responder
// with no friend set to match; this package does not infer the mode
// from link conditions.
package wifidirect

import (
	"strconv"

	"github.com/murmur/murmur-core/internal/peerregistry"
	"github.com/murmur/murmur-core/internal/transport"
)

// ServiceName is the Wi-Fi Direct/Wi-Fi Aware service identifier
// advertised on this transport (spec §6).
const ServiceName = "_murmur._tcp"

// TXTRecord builds the TXT entries advertised alongside ServiceName.
func TXTRecord(deviceIDPrefix8 string, port int) map[string]string {
	return map[string]string{
		"id":   deviceIDPrefix8,
		"port": strconv.Itoa(port),
		"ver":  "1",
	}
}

// New constructs the Wi-Fi Direct transport.
func New() *transport.Stub {
	return transport.NewStub(peerregistry.TransportWiFiDirect, 32)
}

// Simplified reports that this transport's exchanges should run without
// PSI: shared=0 throughout (spec §4.5).
const Simplified = true
