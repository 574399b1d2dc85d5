package media

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/rtp"
)

// TransportConfig конфигурация медиатранспорта
type TransportConfig struct {
	// RemoteAddr адрес удаленной стороны host:port
	RemoteAddr string

	// DTLS конфигурация защищенного транспорта; nil = открытый UDP
	DTLS *dtls.Config

	// HandshakeTimeout максимальное время DTLS рукопожатия
	HandshakeTimeout time.Duration
}

// Transport RTP транспорт поверх UDP или DTLS
type Transport struct {
	conn   net.Conn
	closed bool
	mutex  sync.Mutex
}

// DialTransport открывает соединение к удаленной стороне.
// При заданной DTLS конфигурации поверх UDP сокета выполняется
// клиентское DTLS рукопожатие.
func DialTransport(ctx context.Context, cfg TransportConfig) (*Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения удаленного адреса: %w", err)
	}

	conn, err := listenUDP(raddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	if cfg.DTLS != nil {
		timeout := cfg.HandshakeTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		hsCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		dtlsConn, err := dtls.ClientWithContext(hsCtx, conn, cfg.DTLS)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ошибка DTLS клиента: %w", err)
		}
		return &Transport{conn: dtlsConn}, nil
	}

	return &Transport{conn: conn}, nil
}

// listenUDP открывает UDP сокет с голосовыми оптимизациями уровня ОС
func listenUDP(raddr *net.UDPAddr) (net.Conn, error) {
	dialer := net.Dialer{
		Control: socketControl,
	}
	return dialer.Dial("udp", raddr.String())
}

// WritePacket сериализует и отправляет RTP пакет
func (t *Transport) WritePacket(p *rtp.Packet) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return fmt.Errorf("транспорт закрыт")
	}
	raw, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("ошибка сериализации RTP пакета: %w", err)
	}
	_, err = t.conn.Write(raw)
	return err
}

// LocalAddr возвращает локальный адрес сокета
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close закрывает транспорт. Повторный вызов безопасен.
func (t *Transport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
