//go:build linux

package udpendpoint

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func ipv4SockaddrFromUDPAddr(addr *net.UDPAddr) (*unix.SockaddrInet4, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("udpendpoint: only IPv4 destinations are supported, got %s", addr.IP)
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

func udpAddrFromSockaddr(sa unix.Sockaddr) *net.UDPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	default:
		return nil
	}
}

func boundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("udpendpoint: getsockname: %w", err)
	}
	if a, ok := sa.(*unix.SockaddrInet4); ok {
		return a.Port, nil
	}
	return 0, fmt.Errorf("udpendpoint: unexpected sockaddr type %T", sa)
}
