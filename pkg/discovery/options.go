package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pion/sdp/v3"

	"github.com/arzzra/rcs_core/pkg/capability"
	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/contacts"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// CompletionFunc вызывается ровно один раз на каждом терминальном пути
// задачи обнаружения: успех, отказ, таймаут или паника
type CompletionFunc func(peer string)

// discoveryTask одноразовая задача обнаружения: контакт и опциональный
// callback завершения. Создается на каждую попытку, идентичности не имеет.
type discoveryTask struct {
	peer string
	done CompletionFunc
}

// OptionsProtocol обнаружение возможностей через SIP OPTIONS обмен.
//
// Запросы выполняются на ограниченном пуле воркеров; каждый обмен —
// блокирующий круговой обход в рамках своей задачи. После остановки
// пула новые запросы отбрасываются с записью в лог, очередь не растет.
type OptionsProtocol struct {
	cfg       Config
	transport sipcore.Transport
	contacts  contacts.ContactManager
	log       sipcore.Logger
	metrics   *Metrics

	// notify вызывается после каждой записи нового снимка возможностей
	notify func(peer string, cap capability.Capability)

	// richcall сообщает, есть ли активная звонковая сессия с контактом
	richcall func(peer string) bool

	network atomic.Int32

	mu      sync.Mutex
	tasks   chan discoveryTask
	stopped bool
	started bool
	wg      sync.WaitGroup

	// now подменяется в тестах
	now func() time.Time
}

// NewOptionsProtocol создает протокол OPTIONS обнаружения
func NewOptionsProtocol(cfg Config, tr sipcore.Transport, cm contacts.ContactManager, log sipcore.Logger) *OptionsProtocol {
	return &OptionsProtocol{
		cfg:       cfg,
		transport: tr,
		contacts:  cm,
		log:       log.WithComponent("options"),
		notify:    func(string, capability.Capability) {},
		richcall:  func(string) bool { return false },
		now:       time.Now,
	}
}

// SetMetrics подключает сбор метрик
func (p *OptionsProtocol) SetMetrics(m *Metrics) { p.metrics = m }

// SetNotify подключает получателя уведомлений об обновлениях
func (p *OptionsProtocol) SetNotify(fn func(peer string, cap capability.Capability)) {
	if fn != nil {
		p.notify = fn
	}
}

// SetRichCallChecker подключает предикат "идет звонок с контактом".
// От него зависит объявление тегов медиашаринга в исходящих OPTIONS.
func (p *OptionsProtocol) SetRichCallChecker(fn func(peer string) bool) {
	if fn != nil {
		p.richcall = fn
	}
}

// SetNetworkAccess обновляет известный тип сетевого доступа
func (p *OptionsProtocol) SetNetworkAccess(access NetworkAccess) {
	p.network.Store(int32(access))
}

// Start запускает пул воркеров
func (p *OptionsProtocol) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	workers := p.cfg.MaxConcurrentOptions
	if workers <= 0 {
		workers = 1
	}
	p.tasks = make(chan discoveryTask, workers*4)
	p.started = true
	p.stopped = false
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info("пул OPTIONS воркеров запущен", sipcore.F("workers", workers))
}

// Stop останавливает пул. Уже начатые обмены довыполняются.
func (p *OptionsProtocol) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("пул OPTIONS воркеров остановлен")
}

func (p *OptionsProtocol) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.execute(t)
	}
}

// RequestCapabilities запрашивает возможности контакта, если запись
// отсутствует или устарела относительно RefreshTimeout
func (p *OptionsProtocol) RequestCapabilities(peer string) {
	p.dispatch(peer, nil, false)
}

// RequestCapabilitiesWithCallback то же с callback завершения
func (p *OptionsProtocol) RequestCapabilitiesWithCallback(peer string, done CompletionFunc) {
	p.dispatch(peer, done, false)
}

// requestNow диспетчеризует запрос без проверки свежести — решение
// об устаревании уже принял вызывающий (движок опроса)
func (p *OptionsProtocol) requestNow(peer string, done CompletionFunc) {
	p.dispatch(peer, done, true)
}

func (p *OptionsProtocol) dispatch(peer string, done CompletionFunc, force bool) {
	complete := func() {
		if done != nil {
			done(peer)
		}
	}

	if peer == "" || peer == p.cfg.LocalUser {
		complete()
		return
	}
	if p.contacts.IsBlocked(peer) {
		p.log.Debug("контакт заблокирован, запрос пропущен", sipcore.F("peer", peer))
		complete()
		return
	}

	nowMs := p.now().UnixMilli()
	if force {
		p.contacts.UpdateTimeOfLastRequest(peer, nowMs)
	} else if !p.contacts.MarkRequestedIfDue(peer, nowMs, p.cfg.RefreshTimeout.Milliseconds()) {
		// Запись достаточно свежая: проверка и отметка атомарны,
		// конкурентные запросы по одному контакту не дублируются
		complete()
		return
	}

	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		p.log.Warn("запрос отброшен: пул остановлен", sipcore.F("peer", peer))
		p.metrics.droppedRequest()
		complete()
		return
	}
	select {
	case p.tasks <- discoveryTask{peer: peer, done: done}:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.log.Warn("запрос отброшен: очередь пула переполнена", sipcore.F("peer", peer))
		p.metrics.droppedRequest()
		complete()
	}
}

// execute выполняет один OPTIONS обмен.
// Callback завершения вызывается ровно один раз на любом исходе,
// включая панику внутри обработки.
func (p *OptionsProtocol) execute(t discoveryTask) {
	completed := false
	complete := func() {
		if !completed {
			completed = true
			if t.done != nil {
				t.done(t.peer)
			}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("паника в задаче обнаружения",
				sipcore.F("peer", t.peer), sipcore.F("panic", r))
		}
		complete()
	}()

	callID := sipcore.GenerateCallID()
	fromTag := sipcore.GenerateTag()
	res, err := sipcore.ChallengeRoundTrip(context.Background(), p.transport, p.cfg.Auth, p.log,
		func(attempt int) (*sip.Request, error) {
			return p.buildRequest(t.peer, callID, fromTag, attempt)
		})
	if err != nil {
		// Состояние контакта не трогаем: время запроса уже учтено
		p.log.Warn("OPTIONS обмен не удался", sipcore.F("peer", t.peer), sipcore.ErrField(err))
		p.metrics.optionsExchange(outcomeError)
		return
	}

	nowMs := p.now().UnixMilli()
	switch {
	case res.Timeout:
		p.log.Debug("OPTIONS без ответа", sipcore.F("peer", t.peer))
		p.metrics.optionsExchange(outcomeTimeout)
	case res.StatusCode == sipcore.StatusOK:
		p.handleOK(t.peer, res.Response, nowMs)
		p.metrics.optionsExchange(outcomeOK)
	case res.StatusCode == sipcore.StatusRequestTimeout ||
		res.StatusCode == sipcore.StatusTemporarilyUnavailable:
		p.handleNotRegistered(t.peer)
		p.metrics.optionsExchange(outcomeOffline)
	case res.StatusCode == sipcore.StatusNotFound:
		p.handleNotFound(t.peer, nowMs)
		p.metrics.optionsExchange(outcomeNotFound)
	default:
		p.log.Debug("OPTIONS завершился ошибкой протокола",
			sipcore.F("peer", t.peer), sipcore.F("status", res.StatusCode))
		p.metrics.optionsExchange(outcomeError)
	}
}

// buildRequest собирает OPTIONS запрос. На повторной попытке (после 407)
// Call-ID сохраняется, CSeq увеличивается.
func (p *OptionsProtocol) buildRequest(peer, callID, fromTag string, attempt int) (*sip.Request, error) {
	target, err := PeerURI(peer, p.cfg.LocalDomain)
	if err != nil {
		return nil, err
	}

	req := sip.NewRequest(sip.OPTIONS, target)
	req.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: p.cfg.LocalUser, Host: p.cfg.LocalDomain},
		Params:  sip.NewParams().Add("tag", fromTag),
	})
	req.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})
	callIDHeader := sip.CallIDHeader(callID)
	req.AppendHeader(&callIDHeader)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: uint32(attempt + 1), MethodName: sip.OPTIONS})
	req.AppendHeader(sip.NewHeader("Accept", "application/sdp"))

	tags := buildFeatureTags(p.cfg, p.richcall(peer), NetworkAccess(p.network.Load()))
	contactURI := sip.Uri{Scheme: "sip", User: p.cfg.LocalUser, Host: p.cfg.LocalAddress}
	req.AppendHeader(sip.NewHeader("Contact", contactWithTags(contactURI, tags)))
	return req, nil
}

// handleOK извлекает возможности из 200 OK: feature теги плюс пересечение
// медиаформатов из SDP. Ответ с тегом automata трактуется как "пользователя
// на самом деле нет": регистрация OFFLINE при статусе RCS_CAPABLE.
func (p *OptionsProtocol) handleOK(peer string, res *sip.Response, nowMs int64) {
	b := capabilityFromTags(res)

	if body := res.Body(); len(body) > 0 {
		if desc, err := codec.ParseDescription(body); err == nil {
			p.applyMediaIntersection(b, desc)
		} else {
			p.log.Warn("SDP в ответе OPTIONS не разобран", sipcore.F("peer", peer), sipcore.ErrField(err))
		}
	}

	snapshot := b.Build()
	reg := contacts.RegistrationOnline
	if snapshot.SIPAutomata() {
		reg = contacts.RegistrationOffline
	}
	p.store(peer, snapshot, contacts.RcsStatusCapable, reg, nowMs)
	p.notify(peer, snapshot)
	p.metrics.capabilityUpdate()
}

// applyMediaIntersection переопределяет видеошаринг по пересечению
// видеокодеков: SDP с поддерживаемым видеокодеком включает флаг, SDP
// с видео без единого пересечения его снимает
func (p *OptionsProtocol) applyMediaIntersection(b *capability.Builder, desc *sdp.SessionDescription) {
	videoMedia := codec.FindMedia(desc, "video")
	if videoMedia == nil {
		return
	}
	_, ok := codec.NegotiateVideo(p.cfg.SupportedVideoCodecs, codec.ExtractCodecs(videoMedia))
	b.VideoSharing(ok)
}

func (p *OptionsProtocol) handleNotRegistered(peer string) {
	rec, existed := p.contacts.Get(peer)
	if !existed {
		// Информации не было: фиксируем набор по умолчанию как OFFLINE
		p.contacts.Set(peer, capability.Default(), contacts.RcsStatusNoInfo, contacts.RegistrationOffline)
		p.notify(peer, capability.Default())
		return
	}
	// Известные возможности сохраняются, меняется только регистрация
	p.contacts.Set(peer, rec.Capability, rec.Status, contacts.RegistrationOffline)
	p.notify(peer, rec.Capability)
}

func (p *OptionsProtocol) handleNotFound(peer string, nowMs int64) {
	p.store(peer, capability.Default(), contacts.RcsStatusNotRcs, contacts.RegistrationUnknown, nowMs)
	p.notify(peer, capability.Default())
}

// store записывает снимок, сохранив время последнего запроса и выставив
// время последнего ответа
func (p *OptionsProtocol) store(peer string, snapshot capability.Capability,
	status contacts.RcsStatus, reg contacts.RegistrationState, nowMs int64) {
	p.contacts.MergeCapabilities(peer, status, reg, "",
		func(old capability.Capability, existed bool) capability.Capability {
			nb := capability.NewBuilderFrom(snapshot)
			if existed {
				nb.TimestampOfLastRequest(old.TimestampOfLastRequest())
			}
			nb.TimestampOfLastResponse(nowMs)
			return nb.Build()
		})
}

// PeerURI строит SIP URI контакта через sipcore.PeerURI.
func PeerURI(peer, domain string) (sip.Uri, error) {
	return sipcore.PeerURI(peer, domain)
}
