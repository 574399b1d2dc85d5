package discovery

import (
	"time"

	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// NetworkAccess тип сетевого доступа. Ниже 3G теги видеошаринга
// в исходящих OPTIONS не объявляются.
type NetworkAccess int

const (
	NetworkAccessUnknown NetworkAccess = iota
	NetworkAccess2G
	NetworkAccess3G
	NetworkAccessLTE
	NetworkAccessWiFi
)

// AtLeast3G сообщает, достаточен ли доступ для видеошаринга
func (n NetworkAccess) AtLeast3G() bool {
	return n >= NetworkAccess3G
}

// Config конфигурация обнаружения возможностей.
//
// Флаги Enable* определяют, какие возможности объявляются локально
// в исходящих OPTIONS и в ответах на входящие запросы.
type Config struct {
	// LocalUser собственная идентичность (user часть SIP URI).
	// Запросы возможностей к самому себе отбрасываются.
	LocalUser string

	// LocalDomain домен IMS сети
	LocalDomain string

	// LocalAddress адрес для Contact и SDP
	LocalAddress string

	// Auth учетные данные для ответов на 407 challenge
	Auth sipcore.AuthConfig

	// Локально поддерживаемые возможности
	EnableChat                     bool
	EnableFileTransfer             bool
	EnableFileTransferHTTP         bool
	EnableFileTransferThumbnail    bool
	EnableFileTransferStoreForward bool
	EnableGroupChatStoreForward    bool
	EnableImageSharing             bool
	EnableVideoSharing             bool
	EnableIPVoiceCall              bool
	EnableIPVideoCall              bool
	EnableCSVideo                  bool
	EnablePresenceDiscovery        bool
	EnableSocialPresence           bool
	EnableGeolocationPush          bool

	// EnableExtensions включает объявление списка Extensions
	EnableExtensions bool

	// Extensions список идентификаторов расширений (service ID)
	Extensions []string

	// SupportedVideoCodecs локальные видеокодеки; используются для
	// фильтрации заявленного видеошаринга по пересечению медиаформатов
	SupportedVideoCodecs []codec.Codec

	// RefreshTimeout минимальный интервал между запросами возможностей
	// одного контакта
	RefreshTimeout time.Duration

	// ExpiryTimeout возраст записи, после которого polling считает ее
	// устаревшей
	ExpiryTimeout time.Duration

	// PollingPeriod период опроса всех известных контактов;
	// 0 полностью отключает polling
	PollingPeriod time.Duration

	// MaxConcurrentOptions размер пула одновременных OPTIONS обменов
	MaxConcurrentOptions int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		EnableChat:           true,
		EnableFileTransfer:   true,
		RefreshTimeout:       24 * time.Hour,
		ExpiryTimeout:        48 * time.Hour,
		PollingPeriod:        0,
		MaxConcurrentOptions: 5,
	}
}
