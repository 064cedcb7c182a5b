// Package ble is the BLE transport's core-facing surface. The radio
// itself (GATT service advertisement/scanning) is an OS-level driver
// out of scope for this module (spec §1); this package only upholds the
// invariants spec §6 asks of any transport and lets a platform adapter
// feed discoveries and requests through transport.Stub.
package ble

import (
	"github.com/murmur/murmur-core/internal/peerregistry"
	"github.com/murmur/murmur-core/internal/transport"
)

// New constructs the BLE transport. public_id discoveries surfaced here
// are frequently only an 8-character prefix (spec §3 "Peer record"),
// promoted to the full id by peerregistry.UpdatePeerIDAfterHandshake
// once an app-layer handshake completes.
func New() *transport.Stub {
	return transport.NewStub(peerregistry.TransportBLE, 32)
}
