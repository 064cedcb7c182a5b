// Package lan implements the one fully in-scope concrete Transport
// (spec §6): UDP broadcast discovery on port 41234 plus a TCP session
// channel for the exchange protocol, grounded on
// golang.zx2c4.com/wireguard/conn's bind_std.go (a UDP socket bound
// with SO_REUSEADDR/SO_BROADCAST via golang.org/x/sys/unix and read
// through golang.org/x/net/ipv4 for oob/control access) and conn.go's
// parseEndpoint for address handling.
package lan

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/murmur/murmur-core/internal/logging"
	"github.com/murmur/murmur-core/internal/message"
	"github.com/murmur/murmur-core/internal/murmurerr"
	"github.com/murmur/murmur-core/internal/peerregistry"
	"github.com/murmur/murmur-core/internal/transport"
)

// DiscoveryPort is the UDP port discovery packets are broadcast to
// (spec §6).
const DiscoveryPort = 41234

const lanMagic = "MURMUR_LAN"
const lanVersion = 1

// helloPacket is the discovery datagram shape (spec §6).
type helloPacket struct {
	Magic     string `json:"magic"`
	Type      string `json:"type"` // "HELLO" | "HELLO_RESP"
	Version   int    `json:"version"`
	DeviceID  string `json:"device_id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Timestamp int64  `json:"timestamp"`
}

// session wraps a net.Conn as a transport.Session (spec §4.5: a single
// TCP connection carries every round of one exchange).
type session struct {
	net.Conn
}

func (s *session) RemoteAddr() string { return s.Conn.RemoteAddr().String() }

var _ transport.Session = (*session)(nil)

// Transport implements transport.Transport over LAN UDP broadcast + TCP.
type Transport struct {
	deviceID string
	tcpPort  int
	log      logging.Logger

	udpConn *ipv4.PacketConn
	rawUDP  *net.UDPConn
	tcpLn   *net.TCPListener

	discoveries chan transport.Discovery

	closeOnce sync.Once
	stop      chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New binds the discovery UDP socket and a TCP listener for inbound
// exchange sessions, advertising tcpPort in every HELLO (spec §6: "port
// advertised in the payload is the TCP exchange port").
func New(deviceID string, tcpPort int, log logging.Logger) (*Transport, error) {
	udpAddr := &net.UDPAddr{Port: DiscoveryPort}
	rawUDP, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, murmurerr.Wrap(murmurerr.TransportError, "lan.New", err)
	}
	if err := enableBroadcast(rawUDP); err != nil {
		rawUDP.Close()
		return nil, murmurerr.Wrap(murmurerr.TransportError, "lan.New", err)
	}

	tcpLn, err := net.ListenTCP("tcp4", &net.TCPAddr{Port: tcpPort})
	if err != nil {
		rawUDP.Close()
		return nil, murmurerr.Wrap(murmurerr.TransportError, "lan.New", err)
	}
	actualPort := tcpLn.Addr().(*net.TCPAddr).Port

	udpConn := ipv4.NewPacketConn(rawUDP)
	if err := udpConn.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		log.Debugw("ipv4 control messages unavailable on this platform", "err", err)
	}

	t := &Transport{
		deviceID:    deviceID,
		tcpPort:     actualPort,
		log:         log,
		udpConn:     udpConn,
		rawUDP:      rawUDP,
		tcpLn:       tcpLn,
		discoveries: make(chan transport.Discovery, 64),
		stop:        make(chan struct{}),
	}
	go t.discoveryLoop()
	go t.broadcastLoop()
	return t, nil
}

func (t *Transport) Kind() peerregistry.TransportKind { return peerregistry.TransportLAN }

func (t *Transport) Discoveries() <-chan transport.Discovery { return t.discoveries }

// broadcastLoop periodically sends a HELLO to the IPv4 limited broadcast
// address 255.255.255.255 on DiscoveryPort. It does not compute
// per-interface subnet-directed broadcast addresses.
func (t *Transport) broadcastLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	t.sendHello("HELLO")
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sendHello("HELLO")
		}
	}
}

func (t *Transport) sendHello(kind string) {
	pkt := helloPacket{
		Magic:     lanMagic,
		Type:      kind,
		Version:   lanVersion,
		DeviceID:  t.deviceID,
		Port:      t.tcpPort,
		Timestamp: message.NowMillis(),
	}
	body, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: DiscoveryPort}
	if _, err := t.udpConn.WriteTo(body, nil, dst); err != nil {
		t.log.Debugw("lan broadcast send failed", "err", err)
	}
}

// discoveryLoop listens for HELLO/HELLO_RESP and emits a Discovery per
// sighting, replying HELLO_RESP to a HELLO (spec §6). It reads through
// the ipv4.PacketConn so it can log the destination address and arriving
// interface of each datagram; no datagram is dropped on that basis.
func (t *Transport) discoveryLoop() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-t.stop:
			close(t.discoveries)
			return
		default:
		}
		t.udpConn.SetReadDeadline(time.Now().Add(time.Second))
		n, cm, addr, err := t.udpConn.ReadFrom(buf)
		if err != nil {
			continue
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		var pkt helloPacket
		if err := json.Unmarshal(buf[:n], &pkt); err != nil {
			continue // malformed discovery datagram, ignore (not a session, no typed error to surface)
		}
		if pkt.Magic != lanMagic || pkt.DeviceID == t.deviceID {
			continue
		}
		if cm != nil {
			t.log.Debugw("lan discovery datagram", "src", udpAddr.String(), "dst", cm.Dst.String(), "ifindex", cm.IfIndex)
		}
		port := pkt.Port
		disc := transport.Discovery{
			Address: net.JoinHostPort(udpAddr.IP.String(), strconv.Itoa(port)),
			Port:    &port,
		}
		select {
		case t.discoveries <- disc:
		default:
		}
		if pkt.Type == "HELLO" {
			t.sendHello("HELLO_RESP")
		}
	}
}

// Dial opens a TCP connection to addr for the initiator side of an
// exchange (spec §4.5). The returned Session stays open for every round
// of the protocol; the caller closes it when the exchange ends.
func (t *Transport) Dial(ctx context.Context, addr string) (transport.Session, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, murmurerr.Wrap(murmurerr.TransportError, "lan.Dial", err)
	}
	return &session{Conn: conn}, nil
}

// Serve accepts TCP connections and hands each one to handler as a
// Session spanning the whole exchange (spec §5 "per-transport
// listeners").
func (t *Transport) Serve(ctx context.Context, handler transport.StreamHandler) error {
	go func() {
		<-ctx.Done()
		t.tcpLn.Close()
	}()
	for {
		conn, err := t.tcpLn.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return murmurerr.Wrap(murmurerr.TransportError, "lan.Serve", err)
			}
		}
		go handler(ctx, &session{Conn: conn})
	}
}

// Close releases the UDP and TCP sockets (spec §5 "inbound listeners
// must release sockets on cancellation").
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		t.rawUDP.Close()
		t.tcpLn.Close()
	})
	return nil
}
