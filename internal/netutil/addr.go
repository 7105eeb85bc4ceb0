//go:build linux || darwin

package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

var ErrUnsupportedNetwork = errors.New("netutil: unsupported network")

// ResolveSockaddr 将 tcp/tcp4/tcp6 地址解析为套接字地址族与 Sockaddr。
// 主机为空（如 ":8080"）时 tcp 与 tcp4 绑定到 IPv4 通配地址。
func ResolveSockaddr(network, address string) (family int, sa unix.Sockaddr, _ error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return 0, nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
	addr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return 0, nil, err
	}
	if ip4 := addr.IP.To4(); network != "tcp6" && (addr.IP == nil || ip4 != nil) {
		var sa4 unix.SockaddrInet4
		if ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		sa4.Port = addr.Port
		return unix.AF_INET, &sa4, nil
	}
	var sa6 unix.SockaddrInet6
	if addr.IP != nil {
		copy(sa6.Addr[:], addr.IP.To16())
	}
	sa6.Port = addr.Port
	return unix.AF_INET6, &sa6, nil
}

// SockaddrString 把 Sockaddr 格式化为 host:port。
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	}
	return ""
}

// LocalAddr 返回 fd 绑定的本地地址。
func LocalAddr(fd int) (string, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", err
	}
	return SockaddrString(sa), nil
}

// PeerAddr 返回 fd 的对端地址。
func PeerAddr(fd int) (string, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", err
	}
	return SockaddrString(sa), nil
}
