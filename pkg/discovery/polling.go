package discovery

import (
	"sync"
	"time"

	"github.com/arzzra/rcs_core/pkg/capability"
	"github.com/arzzra/rcs_core/pkg/contacts"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// PollingEngine периодическая переоценка возможностей известных контактов.
//
// Таймер самоперевзводящийся одноразовый: после обработки полного набора
// контактов взводится ровно один следующий период, а не фиксированный
// график. Stop отменяет отложенный перевзвод. Нулевой период опроса
// полностью отключает движок.
type PollingEngine struct {
	cfg      Config
	contacts contacts.ContactManager
	options  *OptionsProtocol
	fetch    *AnonymousFetchProtocol
	log      sipcore.Logger
	metrics  *Metrics

	mu      sync.Mutex
	timer   *time.Timer
	running bool

	now func() time.Time
}

// NewPollingEngine создает движок опроса
func NewPollingEngine(cfg Config, cm contacts.ContactManager, options *OptionsProtocol,
	fetch *AnonymousFetchProtocol, log sipcore.Logger) *PollingEngine {
	return &PollingEngine{
		cfg:      cfg,
		contacts: cm,
		options:  options,
		fetch:    fetch,
		log:      log.WithComponent("polling"),
		now:      time.Now,
	}
}

// SetMetrics подключает сбор метрик
func (e *PollingEngine) SetMetrics(m *Metrics) { e.metrics = m }

// Start взводит первый период. При нулевом периоде — no-op.
func (e *PollingEngine) Start() {
	if e.cfg.PollingPeriod <= 0 {
		e.log.Info("период опроса 0, движок отключен")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.timer = time.AfterFunc(e.cfg.PollingPeriod, e.fire)
	e.log.Info("движок опроса запущен", sipcore.F("period", e.cfg.PollingPeriod.String()))
}

// Stop отменяет отложенный перевзвод
func (e *PollingEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.log.Info("движок опроса остановлен")
}

// fire обрабатывает полный набор контактов и перевзводит таймер
func (e *PollingEngine) fire() {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("паника в цикле опроса", sipcore.F("panic", r))
		}
		// Перевзвод ровно на один период, если движок не остановлен
		e.mu.Lock()
		if e.running {
			e.timer = time.AfterFunc(e.cfg.PollingPeriod, e.fire)
		}
		e.mu.Unlock()
	}()

	e.ProcessAll()
}

// ProcessAll выполняет одну итерацию опроса по всем известным контактам
func (e *PollingEngine) ProcessAll() {
	nowMs := e.now().UnixMilli()
	for _, peer := range e.contacts.Peers() {
		e.processContact(peer, nowMs)
	}
	e.metrics.pollCycle()
}

// processContact решает, пора ли обновлять возможности контакта,
// и выбирает протокол обнаружения
func (e *PollingEngine) processContact(peer string, nowMs int64) {
	rec, existed := e.contacts.Get(peer)
	if !existed {
		e.options.requestNow(peer, nil)
		return
	}
	if !e.isExpired(rec.Capability, nowMs) {
		return
	}
	// Контакт с подтвержденной поддержкой presence обнаружения
	// опрашивается через anonymous fetch, остальные — через OPTIONS
	if rec.Capability.PresenceDiscovery() {
		go e.fetch.RequestCapabilities(peer, nil)
		return
	}
	e.options.requestNow(peer, nil)
}

// isExpired проверяет устаревание записи: последнего ответа не было,
// часы ушли назад относительно него, либо прошло больше ExpiryTimeout
func (e *PollingEngine) isExpired(cap capability.Capability, nowMs int64) bool {
	lastRefresh := cap.TimestampOfLastResponse()
	if lastRefresh == capability.TimestampInvalid {
		return true
	}
	if nowMs < lastRefresh {
		return true
	}
	return nowMs-lastRefresh > e.cfg.ExpiryTimeout.Milliseconds()
}
