// Package mcast implements the DatagramGroup external collaborator
// (spec.md §4, component C4): join/send/receive/leave on an IP multicast
// group. Interface selection is adapted directly from the teacher's
// Discovery.Start/bestInterface, generalized from the teacher's fixed
// IPv4-only discovery socket to both address families via
// golang.org/x/net/ipv4 and ipv6.
package mcast

import (
	"net"
	"time"

	"golang.org/x/xerrors"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
)

const defaultTTL = 4

// DatagramGroup is a joined IP multicast group, bound to one local
// interface, supporting datagram send/receive (spec.md §4 "DatagramGroup").
type DatagramGroup struct {
	conn *net.UDPConn
	pc4  *ipv4.PacketConn
	pc6  *ipv6.PacketConn
	ipv6 bool

	addr *net.UDPAddr
}

// Join binds a UDP socket on port and joins the multicast group at
// address (IPv4 class-D or IPv6 ff00::/8), and sets the outbound
// TTL/hop-limit. port serves double duty, as it must for real IP
// multicast: every participant — sender and receivers alike — binds and
// sends on the same well-known port, since a datagram addressed to
// group:port is only deliverable to sockets that joined group on that
// exact port. Join uses net.ListenMulticastUDP rather than ListenUDP so
// that multiple local group members (as in loopback tests, or a host
// running both a sender and a receiver) can bind the same port
// concurrently. When ifaceName is empty the teacher's bestInterface
// heuristic picks the first non-loopback, up interface. The chosen
// interface's addresses are not checked against the group's address
// family.
func Join(address string, port int, ifaceName string, ttl int) (*DatagramGroup, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, wavecasterr.New(wavecasterr.KindConfigInvalid, "mcast.Join",
			xerrors.Errorf("invalid multicast address %q", address))
	}
	isIPv6 := ip.To4() == nil
	if ttl <= 0 {
		ttl = defaultTTL
	}

	network := "udp4"
	if isIPv6 {
		network = "udp6"
	}

	iface, err := resolveInterface(ifaceName)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenMulticastUDP(network, iface, &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindTransportLost, "mcast.Join", err)
	}

	boundPort := port
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok && local.Port != 0 {
		boundPort = local.Port
	}

	g := &DatagramGroup{
		conn: conn,
		ipv6: isIPv6,
		addr: &net.UDPAddr{IP: ip, Port: boundPort},
	}

	if isIPv6 {
		pc := ipv6.NewPacketConn(conn)
		if err := pc.SetMulticastHopLimit(ttl); err != nil {
			conn.Close()
			return nil, wavecasterr.New(wavecasterr.KindTransportLost, "mcast.Join", err)
		}
		g.pc6 = pc
	} else {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(ttl); err != nil {
			conn.Close()
			return nil, wavecasterr.New(wavecasterr.KindTransportLost, "mcast.Join", err)
		}
		g.pc4 = pc
	}

	return g, nil
}

// resolveInterface mirrors the teacher's bestInterface: by name when
// given, otherwise the first up, non-loopback interface with an address.
func resolveInterface(name string) (*net.Interface, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, wavecasterr.New(wavecasterr.KindConfigInvalid, "mcast.resolveInterface", err)
		}
		return iface, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindTransportLost, "mcast.resolveInterface", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if _, ok := a.(*net.IPNet); ok {
				ifc := iface
				return &ifc, nil
			}
		}
	}
	return nil, wavecasterr.New(wavecasterr.KindConfigInvalid, "mcast.resolveInterface",
		xerrors.Errorf("no usable multicast-capable interface found"))
}

// Send writes one datagram to the joined group.
func (g *DatagramGroup) Send(payload []byte) error {
	_, err := g.conn.WriteToUDP(payload, g.addr)
	if err != nil {
		return wavecasterr.New(wavecasterr.KindTransportLost, "DatagramGroup.Send", err)
	}
	return nil
}

// Receive blocks for the next datagram, up to len(buf) bytes, and returns
// the slice actually filled.
func (g *DatagramGroup) Receive(buf []byte) ([]byte, error) {
	n, _, err := g.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindTransportLost, "DatagramGroup.Receive", err)
	}
	return buf[:n], nil
}

// SetReadDeadline bounds the next Receive call, the way net.Conn does;
// useful for a caller that wants Receive to fail fast rather than block
// forever on a lost or misrouted datagram.
func (g *DatagramGroup) SetReadDeadline(t time.Time) error {
	return g.conn.SetReadDeadline(t)
}

// Leave departs the multicast group and closes the socket.
func (g *DatagramGroup) Leave() error {
	var err error
	if g.ipv6 {
		err = g.pc6.LeaveGroup(nil, &net.UDPAddr{IP: g.addr.IP})
	} else {
		err = g.pc4.LeaveGroup(nil, &net.UDPAddr{IP: g.addr.IP})
	}
	closeErr := g.conn.Close()
	if err != nil {
		return wavecasterr.New(wavecasterr.KindTransportLost, "DatagramGroup.Leave", err)
	}
	if closeErr != nil {
		return wavecasterr.New(wavecasterr.KindTransportLost, "DatagramGroup.Leave", closeErr)
	}
	return nil
}

// LocalAddr returns the bound local UDP address, mostly useful in tests.
func (g *DatagramGroup) LocalAddr() net.Addr {
	return g.conn.LocalAddr()
}
