package discovery

import (
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/capability"
	"github.com/arzzra/rcs_core/pkg/contacts"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// fakeAddressBook адресная книга в памяти с ручным сигналом изменения
type fakeAddressBook struct {
	mu       sync.Mutex
	peers    []string
	onChange func()
}

func (b *fakeAddressBook) AllContacts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.peers))
	copy(out, b.peers)
	return out
}

func (b *fakeAddressBook) OnChange(fn func()) func() {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.onChange = nil
		b.mu.Unlock()
	}
}

func (b *fakeAddressBook) add(peer string) {
	b.mu.Lock()
	b.peers = append(b.peers, peer)
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// incomingOptions строит входящий OPTIONS от контакта
func incomingOptions(peer, contact string) *sip.Request {
	target := sip.Uri{Scheme: "sip", User: "alice", Host: "example.com"}
	req := sip.NewRequest(sip.OPTIONS, target)
	req.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: peer, Host: "example.com"},
		Params:  sip.NewParams().Add("tag", "remote-tag"),
	})
	req.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})
	callID := sip.CallIDHeader("options-in-1")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.OPTIONS})
	if contact != "" {
		req.AppendHeader(sip.NewHeader("Contact", contact))
	}
	return req
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("не дождались: %s", what)
}

func TestIncomingCapabilityRequestAnswered(t *testing.T) {
	tr := sipcore.NewMockTransport()
	cache := contacts.NewCache()
	svc := NewService(testDiscoveryConfig(), tr, cache, nil, sipcore.GetDefaultLogger())

	var notified []string
	svc.AddListener(ListenerFunc(func(peer string, _ capability.Capability) {
		notified = append(notified, peer)
	}))

	req := incomingOptions("bob", `<sip:bob@192.0.2.10>;+g.oma.sip-im;+g.gsma.rcs.ipcall`)
	require.NoError(t, svc.OnCapabilityRequestReceived(req, tr))

	// Ответ несет собственные теги и SDP с видеокодеками
	responses := tr.SentResponses()
	require.Len(t, responses, 1)
	res := responses[0]
	assert.Equal(t, sipcore.StatusOK, res.StatusCode)
	contact := res.GetHeader("Contact")
	require.NotNil(t, contact)
	assert.Contains(t, contact.Value(), TagChat)
	assert.Contains(t, string(res.Body()), "m=video")
	assert.Contains(t, string(res.Body()), "H264")

	// Возможности запросившего записаны из feature тегов запроса
	rec, ok := cache.Get("bob")
	require.True(t, ok)
	assert.Equal(t, contacts.RcsStatusCapable, rec.Status)
	assert.Equal(t, contacts.RegistrationOnline, rec.Registration)
	assert.True(t, rec.Capability.IMSession())
	assert.True(t, rec.Capability.IPVoiceCall())
	assert.Equal(t, []string{"bob"}, notified)
}

func TestIncomingCapabilityRequestWithoutTags(t *testing.T) {
	tr := sipcore.NewMockTransport()
	cache := contacts.NewCache()
	svc := NewService(testDiscoveryConfig(), tr, cache, nil, sipcore.GetDefaultLogger())

	req := incomingOptions("bob", `<sip:bob@192.0.2.10>`)
	require.NoError(t, svc.OnCapabilityRequestReceived(req, tr))

	// Запрос без тегов отвечен, но возможностей не несет —
	// запись не создается
	require.Len(t, tr.SentResponses(), 1)
	_, ok := cache.Get("bob")
	assert.False(t, ok)
}

func TestAddressBookSynchronization(t *testing.T) {
	cfg := testDiscoveryConfig()
	cfg.RefreshTimeout = time.Hour
	tr := sipcore.NewMockTransport()
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		result := sipcore.Reply(req, sipcore.StatusOK, "OK")
		result.Response.AppendHeader(sip.NewHeader("Contact", `<sip:peer@192.0.2.10>;+g.oma.sip-im`))
		return result, nil
	}
	cache := contacts.NewCache()
	book := &fakeAddressBook{peers: []string{"bob", "carol"}}
	svc := NewService(cfg, tr, cache, book, sipcore.GetDefaultLogger())

	svc.Start()
	defer svc.Stop()

	// Синхронизация опрашивает все контакты книги
	waitFor(t, "записи обоих контактов книги", func() bool {
		_, okBob := cache.Get("bob")
		_, okCarol := cache.Get("carol")
		return okBob && okCarol
	})

	rec, _ := cache.Get("bob")
	assert.Equal(t, contacts.RcsStatusCapable, rec.Status)
	assert.True(t, rec.Capability.IMSession())

	// Изменение книги после синхронизации дотягивает нового контакта
	waitFor(t, "подписка на изменения книги", func() bool {
		book.mu.Lock()
		defer book.mu.Unlock()
		return book.onChange != nil
	})
	book.add("dave")
	waitFor(t, "запись нового контакта", func() bool {
		_, ok := cache.Get("dave")
		return ok
	})
}

func TestAddressBookSynchronizationSkipsKnownContacts(t *testing.T) {
	cfg := testDiscoveryConfig()
	cfg.RefreshTimeout = time.Hour
	tr := sipcore.NewMockTransport()
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return sipcore.Reply(req, sipcore.StatusOK, "OK"), nil
	}
	cache := contacts.NewCache()
	cache.Set("bob", capability.NewBuilder().IMSession(true).Build(),
		contacts.RcsStatusCapable, contacts.RegistrationOnline)
	book := &fakeAddressBook{peers: []string{"bob", "carol"}}
	svc := NewService(cfg, tr, cache, book, sipcore.GetDefaultLogger())

	svc.Start()
	defer svc.Stop()

	waitFor(t, "запись carol", func() bool {
		_, ok := cache.Get("carol")
		return ok
	})

	// Контакт с существующей записью повторно не опрашивается
	reqs := tr.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "carol", reqs[0].Recipient.User)
}

func TestForgetContact(t *testing.T) {
	tr := sipcore.NewMockTransport()
	cache := contacts.NewCache()
	svc := NewService(testDiscoveryConfig(), tr, cache, nil, sipcore.GetDefaultLogger())

	svc.Start()
	defer svc.Stop()

	erased := make(chan string, 1)
	svc.ForgetContact("bob", func(peer string) { erased <- peer })

	select {
	case peer := <-erased:
		assert.Equal(t, "bob", peer)
	case <-time.After(2 * time.Second):
		t.Fatal("удаление не выполнено")
	}
}
