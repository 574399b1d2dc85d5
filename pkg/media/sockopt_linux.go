//go:build linux

package media

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl применяет Linux-специфичные опции к медиасокету:
// SO_REUSEPORT для повторного использования порта и повышенный
// приоритет для интерактивного голосового трафика
func socketControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		// Приоритет 6 соответствует интерактивному аудио; ошибка
		// игнорируется в окружениях без поддержки (контейнеры)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, 6)
	})
	if err != nil {
		return err
	}
	return sockErr
}
