//go:build linux

// Package udpendpoint wraps a single raw, non-blocking UDP socket
// registered with an eventloop.Loop: it is the transport primitive both
// the RTP-MIDI client connector and server listener send and receive
// datagrams through.
//
// It deliberately avoids net.UDPConn. Mixing Go's runtime-managed
// network poller with a hand-rolled epoll reactor driving the same
// socket risks the two fighting over readiness notifications; a fully
// raw socket opened with unix.Socket/unix.Bind and driven by
// unix.Sendto/unix.Recvfrom sidesteps that entirely.
package udpendpoint

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/midibridged/midibridged/internal/eventloop"
	"github.com/midibridged/midibridged/internal/signalbus"
)

// maxDatagram is large enough for any RTP-MIDI packet this daemon sends
// or expects to receive; it is well above typical LAN MTU.
const maxDatagram = 1500

// maxAddressCache bounds the destination-address resolution cache. When
// full, the single oldest entry is evicted to make room for a new one.
const maxAddressCache = 100

// Packet is delivered on OnRead for every datagram received.
type Packet struct {
	Data []byte
	From *net.UDPAddr
}

// Endpoint is a bound, non-blocking UDP socket driven by an eventloop.Loop.
type Endpoint struct {
	fd       int
	port     int
	loop     *eventloop.Loop
	listener *eventloop.Listener
	onRead   *signalbus.Signal[Packet]

	cache      map[string]*unix.SockaddrInet4
	cacheOrder []string

	closed bool
}

// Open binds a UDP socket on host:port (port 0 picks an ephemeral port)
// and registers it with loop for read readiness.
func Open(loop *eventloop.Loop, host string, port int) (*Endpoint, error) {
	bindIP := net.IPv4zero
	if host != "" {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("udpendpoint: resolve %q: %w", host, err)
		}
		for _, ip := range ips {
			if v4 := ip.To4(); v4 != nil {
				bindIP = v4
				break
			}
		}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("udpendpoint: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("udpendpoint: set nonblock: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], bindIP.To4())
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("udpendpoint: bind %s:%d: %w", host, port, err)
	}

	actualPort, err := boundPort(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	ep := &Endpoint{
		fd:     fd,
		port:   actualPort,
		loop:   loop,
		onRead: signalbus.New[Packet](),
		cache:  make(map[string]*unix.SockaddrInet4),
	}
	l, err := loop.AddReader(fd, ep.handleReadable)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("udpendpoint: register with loop: %w", err)
	}
	ep.listener = l
	return ep, nil
}

// Port returns the locally bound UDP port.
func (e *Endpoint) Port() int { return e.port }

// OnRead is emitted once per datagram received.
func (e *Endpoint) OnRead() *signalbus.Signal[Packet] { return e.onRead }

func (e *Endpoint) handleReadable(fd int) {
	var buf [maxDatagram]byte
	for {
		n, from, err := unix.Recvfrom(fd, buf[:], 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			return
		}
		addr := udpAddrFromSockaddr(from)
		data := make([]byte, n)
		copy(data, buf[:n])
		e.onRead.Emit(Packet{Data: data, From: addr})
	}
}

// Send transmits data to host:port, resolving and caching the
// destination address across calls.
func (e *Endpoint) Send(data []byte, host string, port int) error {
	sa, err := e.resolveCached(host, port)
	if err != nil {
		return err
	}
	if err := unix.Sendto(e.fd, data, 0, sa); err != nil {
		return fmt.Errorf("udpendpoint: sendto %s:%d: %w", host, port, err)
	}
	return nil
}

func (e *Endpoint) resolveCached(host string, port int) (*unix.SockaddrInet4, error) {
	key := fmt.Sprintf("%s:%d", host, port)
	if sa, ok := e.cache[key]; ok {
		return sa, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("udpendpoint: resolve %q: %w", host, err)
	}
	var v4 net.IP
	for _, ip := range ips {
		if a := ip.To4(); a != nil {
			v4 = a
			break
		}
	}
	if v4 == nil {
		return nil, fmt.Errorf("udpendpoint: no IPv4 address found for %q", host)
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], v4)

	if len(e.cacheOrder) >= maxAddressCache {
		oldest := e.cacheOrder[0]
		e.cacheOrder = e.cacheOrder[1:]
		delete(e.cache, oldest)
	}
	e.cache[key] = sa
	e.cacheOrder = append(e.cacheOrder, key)
	return sa, nil
}

// Close deregisters the socket from its loop and closes the fd.
func (e *Endpoint) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.listener != nil {
		e.listener.Stop()
	}
	return unix.Close(e.fd)
}
