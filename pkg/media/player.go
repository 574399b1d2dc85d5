package media

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/pion/rtp"

	"github.com/arzzra/rcs_core/pkg/codec"
)

// Player медиа-пир, с которым сессия согласует кодеки.
// Реализации: AudioPlayer и VideoPlayer.
type Player interface {
	// SupportedCodecs возвращает локальный список кодеков,
	// упорядоченный по предпочтению (больший индекс — выше предпочтение)
	SupportedCodecs() []codec.Codec

	// Open открывает транспорт к удаленной стороне под согласованный кодек
	Open(ctx context.Context, selected codec.Codec, remoteAddr string) error

	// Close закрывает плеер и транспорт; повторный вызов безопасен
	Close()

	// IsOpened сообщает, открыт ли плеер
	IsOpened() bool
}

// basePlayer общая часть аудио и видео плееров
type basePlayer struct {
	kind      codec.Kind
	supported []codec.Codec
	transport *Transport
	selected  codec.Codec
	ssrc      uint32
	seq       uint16
	timestamp uint32
	dtls      *TransportConfig
	opened    bool
	mu        sync.Mutex
}

func newBasePlayer(kind codec.Kind, supported []codec.Codec) basePlayer {
	return basePlayer{
		kind:      kind,
		supported: supported,
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Intn(1 << 16)),
	}
}

func (p *basePlayer) SupportedCodecs() []codec.Codec {
	out := make([]codec.Codec, len(p.supported))
	copy(out, p.supported)
	return out
}

func (p *basePlayer) Open(ctx context.Context, selected codec.Codec, remoteAddr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opened {
		return fmt.Errorf("%s плеер уже открыт", p.kind)
	}

	cfg := TransportConfig{RemoteAddr: remoteAddr}
	if p.dtls != nil {
		cfg = *p.dtls
		cfg.RemoteAddr = remoteAddr
	}
	tr, err := DialTransport(ctx, cfg)
	if err != nil {
		return err
	}
	p.transport = tr
	p.selected = selected
	p.opened = true
	return nil
}

func (p *basePlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return
	}
	p.opened = false
	if p.transport != nil {
		p.transport.Close()
		p.transport = nil
	}
}

func (p *basePlayer) IsOpened() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

// SendFrame упаковывает кадр медиа в RTP пакет и отправляет.
// samples — приращение RTP таймстампа для этого кадра.
func (p *basePlayer) SendFrame(payload []byte, samples uint32, marker bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return fmt.Errorf("%s плеер не открыт", p.kind)
	}

	p.seq++
	p.timestamp += samples
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.selected.PayloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	return p.transport.WritePacket(packet)
}

// AudioPlayer аудио-пир сессии
type AudioPlayer struct {
	basePlayer
}

// NewAudioPlayer создает аудио плеер с заданным списком кодеков
func NewAudioPlayer(supported []codec.Codec) *AudioPlayer {
	return &AudioPlayer{basePlayer: newBasePlayer(codec.KindAudio, supported)}
}

// NewSecureAudioPlayer создает аудио плеер с DTLS транспортом
func NewSecureAudioPlayer(supported []codec.Codec, dtls TransportConfig) *AudioPlayer {
	p := NewAudioPlayer(supported)
	p.dtls = &dtls
	return p
}

// VideoPlayer видео-пир сессии
type VideoPlayer struct {
	basePlayer
}

// NewVideoPlayer создает видео плеер с заданным списком кодеков
func NewVideoPlayer(supported []codec.Codec) *VideoPlayer {
	return &VideoPlayer{basePlayer: newBasePlayer(codec.KindVideo, supported)}
}

var (
	_ Player = (*AudioPlayer)(nil)
	_ Player = (*VideoPlayer)(nil)
)
