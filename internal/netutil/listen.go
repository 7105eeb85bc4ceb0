//go:build linux || darwin

package netutil

import (
	"golang.org/x/sys/unix"
)

const listenBacklog = 1024

// Listen 创建非阻塞监听套接字。
func Listen(network, address string, reusePort bool) (int, error) {
	fam, sa, err := ResolveSockaddr(network, address)
	if err != nil {
		return -1, err
	}
	fd, err := socket(fam)
	if err != nil {
		return -1, err
	}
	_ = SetReuseAddr(fd, true)
	if reusePort {
		if err := SetReusePort(fd, true); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Dial 发起非阻塞 connect。inProgress 为 true 时连接尚未完成，
// 须等待 fd 可写后用 SocketError 判断结果。
func Dial(network, address string) (fd int, inProgress bool, _ error) {
	fam, sa, err := ResolveSockaddr(network, address)
	if err != nil {
		return -1, false, err
	}
	fd, err = socket(fam)
	if err != nil {
		return -1, false, err
	}
	_ = SetNoDelay(fd, true)
	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return fd, false, nil
	case unix.EINPROGRESS, unix.EINTR:
		return fd, true, nil
	}
	unix.Close(fd)
	return -1, false, err
}
