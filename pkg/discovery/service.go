package discovery

import (
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/capability"
	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/contacts"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// AddressBook внешняя адресная книга устройства.
// Ядро использует только список контактов и факт изменения.
type AddressBook interface {
	// AllContacts возвращает идентичности всех контактов книги
	AllContacts() []string

	// OnChange подписывает на изменения книги; возвращает функцию отписки
	OnChange(fn func()) (detach func())
}

// Service фасад обнаружения возможностей.
//
// Владеет обоими протоколами обнаружения, фоновыми очередями операций,
// движком опроса и рукопожатием синхронизации адресной книги. Движок
// опроса никогда не работает одновременно с незавершенной полной
// синхронизацией: каждый проход синхронизации начинается с остановки
// опроса и перезапускает его только после полного осушения прохода.
type Service struct {
	cfg      Config
	log      sipcore.Logger
	contacts contacts.ContactManager

	Options *OptionsProtocol
	Fetch   *AnonymousFetchProtocol
	Polling *PollingEngine

	// Очереди фоновых операций: долгие удаления не должны
	// задерживать интерактивные операции
	opsQueue    *SerialQueue
	deleteQueue *SerialQueue

	addressBook AddressBook
	listeners   listenerSet
	metrics     *Metrics

	mu      sync.Mutex
	started bool
	detach  func()
}

// NewService собирает фасад обнаружения
func NewService(cfg Config, tr sipcore.Transport, cm contacts.ContactManager,
	book AddressBook, log sipcore.Logger) *Service {
	s := &Service{
		cfg:         cfg,
		log:         log.WithComponent("capability-service"),
		contacts:    cm,
		addressBook: book,
	}
	s.Options = NewOptionsProtocol(cfg, tr, cm, log)
	s.Fetch = NewAnonymousFetchProtocol(cfg, tr, cm, log)
	s.Polling = NewPollingEngine(cfg, cm, s.Options, s.Fetch, log)

	notify := s.listeners.notify
	s.Options.SetNotify(notify)
	s.Fetch.SetNotify(notify)
	return s
}

// SetMetrics подключает сбор метрик ко всем компонентам
func (s *Service) SetMetrics(m *Metrics) {
	s.metrics = m
	s.Options.SetMetrics(m)
	s.Fetch.SetMetrics(m)
	s.Polling.SetMetrics(m)
}

// AddListener регистрирует получателя уведомлений об обновлениях
func (s *Service) AddListener(l Listener) {
	s.listeners.add(l)
}

// Start запускает пул OPTIONS воркеров и ставит в очередь одноразовую
// задачу полной синхронизации. Опрос стартует только после того, как
// синхронизация полностью осушится.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.opsQueue = NewSerialQueue("ops", s.log)
	s.deleteQueue = NewSerialQueue("delete", s.log)
	s.Options.Start()
	s.opsQueue.Submit(s.runSynchronization)
}

// Stop останавливает фоновые воркеры, движок опроса и отписывается
// от изменений адресной книги
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	s.Polling.Stop()
	s.Options.Stop()
	s.opsQueue.Stop()
	s.deleteQueue.Stop()
	s.log.Info("сервис обнаружения остановлен")
}

// RequestCapabilities запрашивает возможности одного контакта
func (s *Service) RequestCapabilities(peer string) {
	s.Options.RequestCapabilities(peer)
}

// RequestCapabilitiesBatch запрашивает возможности набора контактов
func (s *Service) RequestCapabilitiesBatch(peers []string) {
	for _, peer := range peers {
		s.Options.RequestCapabilities(peer)
	}
}

// ForgetContact ставит удаление записи контакта в отдельную очередь
// удалений, чтобы долгие удаления не задерживали интерактивные операции
func (s *Service) ForgetContact(peer string, erase func(peer string)) {
	s.deleteQueue.Submit(func() {
		erase(peer)
		s.log.Debug("запись контакта удалена", sipcore.F("peer", peer))
	})
}

// runSynchronization полная синхронизация адресной книги.
//
// Цикл: найти контакты книги, которые еще ни разу не опрашивались;
// диспетчеризовать для них пакет OPTIONS задач; дождаться callback
// завершения от каждого члена пакета; повторить сверку — за время
// пакета могли появиться новые контакты. Только когда неопрошенных не
// осталось, синхронизация объявляется завершенной: взводится слушатель
// изменений книги и стартует движок опроса.
func (s *Service) runSynchronization() {
	s.Polling.Stop()

	for {
		unqueried := s.reconcile()
		if len(unqueried) == 0 {
			break
		}
		s.log.Info("синхронизация: пакет неопрошенных контактов",
			sipcore.F("count", len(unqueried)))

		batch := newBatchTracker(unqueried)
		for _, peer := range unqueried {
			s.Options.RequestCapabilitiesWithCallback(peer, batch.complete)
		}
		batch.wait()
	}

	s.mu.Lock()
	started := s.started
	if started && s.detach == nil && s.addressBook != nil {
		s.detach = s.addressBook.OnChange(s.onAddressBookChanged)
	}
	s.mu.Unlock()

	if started {
		s.Polling.Start()
		s.log.Info("синхронизация адресной книги завершена")
	}
}

// reconcile возвращает контакты книги, для которых еще нет записи
func (s *Service) reconcile() []string {
	if s.addressBook == nil {
		return nil
	}
	var unqueried []string
	for _, peer := range s.addressBook.AllContacts() {
		if peer == "" || peer == s.cfg.LocalUser {
			continue
		}
		if _, existed := s.contacts.Get(peer); !existed {
			unqueried = append(unqueried, peer)
		}
	}
	return unqueried
}

// onAddressBookChanged ставит повторную синхронизацию в очередь операций
func (s *Service) onAddressBookChanged() {
	s.opsQueue.Submit(s.runSynchronization)
}

// batchTracker отслеживает завершение пакета из N задач обнаружения.
//
// Пакет завершен ровно тогда, когда callback отработал для каждого
// члена: множество ожидаемых контактов уменьшается под одной блокировкой
// по схеме "удалить, затем проверить пустоту". Повторная доставка
// callback для одного контакта не приводит к двойному завершению —
// удаление отсутствующего элемента ничего не меняет.
type batchTracker struct {
	mu      sync.Mutex
	pending map[string]struct{}
	done    chan struct{}
	closed  bool
}

func newBatchTracker(peers []string) *batchTracker {
	b := &batchTracker{
		pending: make(map[string]struct{}, len(peers)),
		done:    make(chan struct{}),
	}
	for _, peer := range peers {
		b.pending[peer] = struct{}{}
	}
	if len(b.pending) == 0 {
		close(b.done)
		b.closed = true
	}
	return b
}

func (b *batchTracker) complete(peer string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pending, peer)
	if len(b.pending) == 0 && !b.closed {
		b.closed = true
		close(b.done)
	}
}

func (b *batchTracker) wait() {
	<-b.done
}

// OnCapabilityRequestReceived обрабатывает входящий OPTIONS от удаленной
// стороны: отвечает 200 OK с собственными feature тегами и SDP, попутно
// записывая возможности запросившего из feature тегов его запроса.
func (s *Service) OnCapabilityRequestReceived(req *sip.Request, tr sipcore.Transport) error {
	// Возможности запросившего — бесплатная информация
	if peer, ok := s.peerFromRequest(req); ok {
		snapshot := capabilityFromTags(req).Build()
		if !snapshot.Equal(capability.Default()) {
			nowMs := time.Now().UnixMilli()
			s.contacts.MergeCapabilities(peer, contacts.RcsStatusCapable, contacts.RegistrationOnline, "",
				func(old capability.Capability, existed bool) capability.Capability {
					nb := capability.NewBuilderFrom(snapshot)
					if existed {
						nb.TimestampOfLastRequest(old.TimestampOfLastRequest())
					}
					nb.TimestampOfLastResponse(nowMs)
					return nb.Build()
				})
			s.listeners.notify(peer, snapshot)
		}
	}

	body, err := codec.BuildDescription(s.cfg.LocalAddress,
		codec.MediaSpec{Media: "video", Port: 0, Codecs: s.cfg.SupportedVideoCodecs})
	if err != nil {
		return sipcore.NewProtocolError("OPTIONS_SDP", "не удалось построить SDP ответа", err)
	}

	res := sip.NewResponseFromRequest(req, sipcore.StatusOK, "OK", body)
	tags := buildFeatureTags(s.cfg, false, NetworkAccess3G)
	contactURI := sip.Uri{Scheme: "sip", User: s.cfg.LocalUser, Host: s.cfg.LocalAddress}
	res.AppendHeader(sip.NewHeader("Contact", contactWithTags(contactURI, tags)))
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	return tr.SendResponse(res)
}

// OnNotificationReceived передает presence NOTIFY протоколу anonymous fetch
func (s *Service) OnNotificationReceived(req *sip.Request) error {
	return s.Fetch.OnNotificationReceived(req)
}

// peerFromRequest извлекает идентичность отправителя запроса
func (s *Service) peerFromRequest(req *sip.Request) (string, bool) {
	from := req.From()
	if from == nil {
		return "", false
	}
	if from.Address.User != "" {
		return from.Address.User, true
	}
	return "", false
}
