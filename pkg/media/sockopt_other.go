//go:build !linux

package media

import "syscall"

// socketControl на платформах без Linux-специфичных опций ничего не делает
func socketControl(network, address string, c syscall.RawConn) error {
	return nil
}
