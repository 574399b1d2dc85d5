// Package contacts определяет границу между ядром обнаружения возможностей
// и хранилищем контактов.
//
// Само персистентное хранилище (база контактов, журналы) — внешний
// коллаборатор; ядро работает только через интерфейс ContactManager.
// Пакет предоставляет потокобезопасную in-memory реализацию (Cache) для
// встраивания и тестов.
package contacts

import (
	"github.com/arzzra/rcs_core/pkg/capability"
)

// RcsStatus уровень доверия/классификации контакта, назначаемый вместе
// с обновлением Capability
type RcsStatus int

const (
	// RcsStatusNoInfo информация о контакте отсутствует
	RcsStatusNoInfo RcsStatus = iota
	// RcsStatusNotRcs контакт подтвержденно не поддерживает RCS
	RcsStatusNotRcs
	// RcsStatusCapable контакт поддерживает RCS
	RcsStatusCapable
)

func (s RcsStatus) String() string {
	switch s {
	case RcsStatusNoInfo:
		return "NO_INFO"
	case RcsStatusNotRcs:
		return "NOT_RCS"
	case RcsStatusCapable:
		return "RCS_CAPABLE"
	default:
		return "UNKNOWN"
	}
}

// RegistrationState состояние SIP регистрации контакта,
// выведенное из последнего обмена возможностями
type RegistrationState int

const (
	RegistrationUnknown RegistrationState = iota
	RegistrationOnline
	RegistrationOffline
)

func (s RegistrationState) String() string {
	switch s {
	case RegistrationOnline:
		return "ONLINE"
	case RegistrationOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// Record хранимая запись о контакте
type Record struct {
	Capability   capability.Capability
	Status       RcsStatus
	Registration RegistrationState
	DisplayName  string
}

// ContactManager интерфейс внешнего хранилища возможностей контактов.
//
// Хранилище потокобезопасно на уровне отдельных операций; атомарность
// между чтением и последующей записью не гарантируется, кроме явно
// атомарной MarkRequestedIfDue.
type ContactManager interface {
	// Get возвращает запись контакта, ok=false если записи нет
	Get(peer string) (Record, bool)

	// Set заменяет снимок возможностей контакта целиком
	Set(peer string, cap capability.Capability, status RcsStatus, reg RegistrationState)

	// MergeCapabilities читает текущую запись, применяет merge функцию
	// и записывает результат под одной блокировкой
	MergeCapabilities(peer string, status RcsStatus, reg RegistrationState, displayName string,
		merge func(old capability.Capability, existed bool) capability.Capability)

	// UpdateTimeOfLastRequest фиксирует момент отправки запроса возможностей
	UpdateTimeOfLastRequest(peer string, ts int64)

	// UpdateTimeOfLastResponse фиксирует момент получения ответа
	UpdateTimeOfLastResponse(peer string, ts int64)

	// MarkRequestedIfDue атомарно проверяет, пора ли обновлять возможности
	// контакта (нет записи, запись старше refreshTimeout или часы ушли
	// назад), и при положительном ответе сразу выставляет время последнего
	// запроса. Проверка и отметка выполняются под одной блокировкой, чтобы
	// конкурентные запросы по одному контакту не диспетчеризовались дважды.
	MarkRequestedIfDue(peer string, now int64, refreshTimeoutMs int64) bool

	// IsBlocked сообщает, заблокирован ли контакт пользователем
	IsBlocked(peer string) bool

	// Peers возвращает список всех известных контактов
	Peers() []string
}
