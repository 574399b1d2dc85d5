package session

import (
	"time"

	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// Config конфигурация слоя IP звонков.
type Config struct {
	// LocalUser собственная идентичность (user часть SIP URI)
	LocalUser string

	// LocalDomain домен IMS сети
	LocalDomain string

	// LocalAddress адрес для Contact и SDP
	LocalAddress string

	// Auth учетные данные для ответов на 407 challenge
	Auth sipcore.AuthConfig

	// AudioPort локальный порт аудиопотока, объявляемый в SDP
	AudioPort int

	// VideoPort локальный порт видеопотока, объявляемый в SDP
	VideoPort int

	// SupportedAudioCodecs аудиокодеки в порядке возрастания предпочтения.
	// Аудио обязательно: без единого пересечения сессия невозможна.
	SupportedAudioCodecs []codec.Codec

	// SupportedVideoCodecs видеокодеки в порядке возрастания предпочтения.
	// Видео опционально: без пересечения звонок продолжается без видео.
	SupportedVideoCodecs []codec.Codec

	// RingTimeout время ожидания решения по входящему приглашению,
	// после которого отвечаем 480
	RingTimeout time.Duration

	// MaxSessions предел одновременных сессий; 0 = без предела
	MaxSessions int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		AudioPort:   10000,
		VideoPort:   10002,
		RingTimeout: 40 * time.Second,
		MaxSessions: 2,
	}
}
