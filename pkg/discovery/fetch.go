package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/capability"
	"github.com/arzzra/rcs_core/pkg/contacts"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// AnonymousFetchProtocol обнаружение возможностей через одноразовый
// presence SUBSCRIBE.
//
// "Anonymous fetch" запрашивает единственный NOTIFY без установления
// постоянной подписки: SUBSCRIBE с Expires: 0 и анонимной локальной
// идентичностью. Проверку свежести протокол не делает — решение об
// устаревании принимает вызывающий до выбора протокола.
type AnonymousFetchProtocol struct {
	cfg       Config
	transport sipcore.Transport
	contacts  contacts.ContactManager
	log       sipcore.Logger
	metrics   *Metrics
	notify    func(peer string, cap capability.Capability)

	now func() time.Time
}

// NewAnonymousFetchProtocol создает протокол anonymous fetch
func NewAnonymousFetchProtocol(cfg Config, tr sipcore.Transport, cm contacts.ContactManager, log sipcore.Logger) *AnonymousFetchProtocol {
	return &AnonymousFetchProtocol{
		cfg:       cfg,
		transport: tr,
		contacts:  cm,
		log:       log.WithComponent("anonymous-fetch"),
		notify:    func(string, capability.Capability) {},
		now:       time.Now,
	}
}

// SetMetrics подключает сбор метрик
func (p *AnonymousFetchProtocol) SetMetrics(m *Metrics) { p.metrics = m }

// SetNotify подключает получателя уведомлений об обновлениях
func (p *AnonymousFetchProtocol) SetNotify(fn func(peer string, cap capability.Capability)) {
	if fn != nil {
		p.notify = fn
	}
}

// RequestCapabilities выполняет SUBSCRIBE обмен для контакта.
// Вызов блокирующий, выполняется в рамках фоновой задачи вызывающего.
// Callback завершения вызывается ровно один раз.
func (p *AnonymousFetchProtocol) RequestCapabilities(peer string, done CompletionFunc) {
	completed := false
	complete := func() {
		if !completed {
			completed = true
			if done != nil {
				done(peer)
			}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("паника в задаче anonymous fetch",
				sipcore.F("peer", peer), sipcore.F("panic", r))
		}
		complete()
	}()

	p.contacts.UpdateTimeOfLastRequest(peer, p.now().UnixMilli())

	callID := sipcore.GenerateCallID()
	fromTag := sipcore.GenerateTag()
	res, err := sipcore.ChallengeRoundTrip(context.Background(), p.transport, p.cfg.Auth, p.log,
		func(attempt int) (*sip.Request, error) {
			return p.buildSubscribe(peer, callID, fromTag, attempt)
		})
	if err != nil {
		p.log.Warn("SUBSCRIBE обмен не удался", sipcore.F("peer", peer), sipcore.ErrField(err))
		p.metrics.fetchExchange(outcomeError)
		return
	}

	switch {
	case res.Timeout:
		p.log.Debug("SUBSCRIBE без ответа", sipcore.F("peer", peer))
		p.metrics.fetchExchange(outcomeTimeout)
	case res.OK():
		// Возможности придут в NOTIFY с PIDF телом; сам 2xx лишь
		// подтверждает принятие подписки
		p.metrics.fetchExchange(outcomeOK)
	case res.StatusCode == sipcore.StatusNotFound:
		p.handleNotFound(peer)
		p.metrics.fetchExchange(outcomeNotFound)
	default:
		p.log.Debug("SUBSCRIBE завершился ошибкой протокола",
			sipcore.F("peer", peer), sipcore.F("status", res.StatusCode))
		p.metrics.fetchExchange(outcomeError)
	}
}

// buildSubscribe собирает одноразовый SUBSCRIBE с анонимной идентичностью
func (p *AnonymousFetchProtocol) buildSubscribe(peer, callID, fromTag string, attempt int) (*sip.Request, error) {
	target, err := PeerURI(peer, p.cfg.LocalDomain)
	if err != nil {
		return nil, err
	}

	req := sip.NewRequest(sip.SUBSCRIBE, target)
	req.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: "anonymous", Host: "anonymous.invalid"},
		Params:  sip.NewParams().Add("tag", fromTag),
	})
	req.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})
	callIDHeader := sip.CallIDHeader(callID)
	req.AppendHeader(&callIDHeader)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: uint32(attempt + 1), MethodName: sip.SUBSCRIBE})
	req.AppendHeader(sip.NewHeader("Event", "presence"))
	req.AppendHeader(sip.NewHeader("Expires", "0"))
	req.AppendHeader(sip.NewHeader("Accept", "application/pidf+xml"))
	req.AppendHeader(sip.NewHeader("Privacy", "id"))
	return req, nil
}

func (p *AnonymousFetchProtocol) handleNotFound(peer string) {
	nowMs := p.now().UnixMilli()
	p.contacts.MergeCapabilities(peer, contacts.RcsStatusNotRcs, contacts.RegistrationUnknown, "",
		func(old capability.Capability, existed bool) capability.Capability {
			nb := capability.NewBuilder()
			if existed {
				nb.TimestampOfLastRequest(old.TimestampOfLastRequest())
			}
			nb.TimestampOfLastResponse(nowMs)
			return nb.Build()
		})
	p.notify(peer, capability.Default())
}

// OnNotificationReceived обрабатывает входящий presence NOTIFY.
//
// Пустое тело означает "информации о возможностях нет": идентичность
// берется из SIP заголовков, сохраняется набор по умолчанию со статусом
// NO_INFO. Непустое тело разбирается как PIDF; уведомление с entity,
// не сводимым к телефонной идентичности, отбрасывается без изменения
// состояния. Ошибка разбора фатальна для этого обмена, но не для
// сохраненного состояния контакта.
func (p *AnonymousFetchProtocol) OnNotificationReceived(req *sip.Request) error {
	body := req.Body()
	if len(body) == 0 {
		peer, ok := p.peerFromHeaders(req)
		if !ok {
			p.log.Warn("NOTIFY без тела и без разбираемой идентичности")
			p.metrics.notification(outcomeError)
			return sipcore.NewProtocolError("NOTIFY_NO_IDENTITY", "идентичность контакта не извлечена", nil)
		}
		p.store(peer, capability.Default(), contacts.RcsStatusNoInfo)
		p.notify(peer, capability.Default())
		p.metrics.notification(outcomeOK)
		return nil
	}

	doc, err := parsePIDF(body)
	if err != nil {
		p.metrics.notification(outcomeError)
		return err
	}
	peer, ok := peerFromEntity(doc.Entity)
	if !ok {
		p.log.Warn("PIDF entity не сводится к телефонной идентичности, уведомление отброшено",
			sipcore.F("entity", doc.Entity))
		p.metrics.notification(outcomeError)
		return nil
	}

	snapshot := capabilityFromPIDF(doc)
	p.store(peer, snapshot, contacts.RcsStatusCapable)
	p.notify(peer, snapshot)
	p.metrics.notification(outcomeOK)
	p.metrics.capabilityUpdate()
	return nil
}

// peerFromHeaders извлекает заявленную идентичность контакта из заголовков
// NOTIFY (From, затем P-Asserted-Identity)
func (p *AnonymousFetchProtocol) peerFromHeaders(req *sip.Request) (string, bool) {
	if from := req.From(); from != nil {
		if peer, ok := peerFromEntity(strings.Trim(from.Address.String(), "<>")); ok {
			return peer, ok
		}
	}
	if hdr := req.GetHeader("P-Asserted-Identity"); hdr != nil {
		value := strings.Trim(hdr.Value(), "<>")
		return peerFromEntity(value)
	}
	return "", false
}

// store записывает снимок с регистрацией UNKNOWN, сохранив время
// последнего запроса
func (p *AnonymousFetchProtocol) store(peer string, snapshot capability.Capability, status contacts.RcsStatus) {
	nowMs := p.now().UnixMilli()
	p.contacts.MergeCapabilities(peer, status, contacts.RegistrationUnknown, "",
		func(old capability.Capability, existed bool) capability.Capability {
			nb := capability.NewBuilderFrom(snapshot)
			if existed {
				nb.TimestampOfLastRequest(old.TimestampOfLastRequest())
			}
			nb.TimestampOfLastResponse(nowMs)
			return nb.Build()
		})
}
