//go:build windows

package lan

import "net"

// enableBroadcast is a no-op on Windows: net.ListenUDP sockets there
// already permit sending to the broadcast address without SO_BROADCAST.
func enableBroadcast(conn *net.UDPConn) error {
	return nil
}
