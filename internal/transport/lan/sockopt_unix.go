//go:build !windows

package lan

import (
	"net"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST on the discovery socket so
// sendHello can write to the IPv4 broadcast address
// (spec §6), the way conn/conn_linux.go reaches for golang.org/x/sys/unix
// to set socket options net.UDPConn does not expose directly.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
