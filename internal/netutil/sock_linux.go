//go:build linux

package netutil

import (
	"golang.org/x/sys/unix"
)

func socket(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

// Accept 接受一个连接，返回的 fd 已是非阻塞的。
func Accept(lfd int) (int, unix.Sockaddr, error) {
	fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	_ = SetNoDelay(fd, true)
	return fd, sa, nil
}
