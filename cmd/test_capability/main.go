package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/capability"
	"github.com/arzzra/rcs_core/pkg/contacts"
	"github.com/arzzra/rcs_core/pkg/discovery"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

func main() {
	var (
		username = flag.String("user", "alice", "Собственная идентичность")
		domain   = flag.String("domain", "example.com", "Домен IMS сети")
		peers    = flag.String("peers", "+79001234567,+79007654321,bob", "Контакты через запятую")
		mode     = flag.String("mode", "options", "Режим: options, sync, incoming")
	)
	flag.Parse()

	switch *mode {
	case "options":
		runOptionsDiscovery(*username, *domain, strings.Split(*peers, ","))
	case "sync":
		runAddressBookSync(*username, *domain, strings.Split(*peers, ","))
	case "incoming":
		runIncomingOptions(*username, *domain)
	default:
		fmt.Printf("Неизвестный режим: %s\n", *mode)
		fmt.Println("Доступные режимы: options, sync, incoming")
		os.Exit(1)
	}
}

// demoConfig собирает конфигурацию обнаружения для демонстрации
func demoConfig(username, domain string) discovery.Config {
	cfg := discovery.DefaultConfig()
	cfg.LocalUser = username
	cfg.LocalDomain = domain
	cfg.LocalAddress = "127.0.0.1"
	cfg.EnableVideoSharing = true
	cfg.EnableIPVoiceCall = true
	cfg.EnableIPVideoCall = true
	return cfg
}

// demoTransport эмулирует удаленные терминалы: четные контакты отвечают
// 200 с feature тегами, нечетные не зарегистрированы
func demoTransport() *sipcore.MockTransport {
	tr := sipcore.NewMockTransport()
	n := 0
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		n++
		if n%2 == 0 {
			return sipcore.Reply(req, sipcore.StatusTemporarilyUnavailable, "Temporarily Unavailable"), nil
		}
		res := sipcore.Reply(req, sipcore.StatusOK, "OK")
		res.Response.AppendHeader(sip.NewHeader("Contact",
			`<sip:remote@127.0.0.1>;+g.oma.sip-im;+g.gsma.rcs.ipcall`))
		return res, nil
	}
	return tr
}

// staticBook адресная книга с фиксированным списком контактов
type staticBook struct{ contacts []string }

func (b staticBook) AllContacts() []string { return b.contacts }

func (b staticBook) OnChange(func()) (detach func()) { return func() {} }

// printer печатает каждое обновление возможностей
type printer struct{}

func (printer) OnCapabilitiesUpdated(peer string, cap capability.Capability) {
	log.Printf("обновление: %s → %s", peer, cap.String())
}

func runOptionsDiscovery(username, domain string, peers []string) {
	log.Printf("Запуск обнаружения возможностей: %s@%s", username, domain)

	cache := contacts.NewCache()
	svc := discovery.NewService(demoConfig(username, domain), demoTransport(), cache,
		staticBook{}, sipcore.GetDefaultLogger())
	svc.AddListener(printer{})
	svc.Start()
	defer svc.Stop()

	for _, peer := range peers {
		svc.RequestCapabilities(strings.TrimSpace(peer))
	}
	time.Sleep(500 * time.Millisecond)

	for _, peer := range cache.Peers() {
		rec, _ := cache.Get(peer)
		log.Printf("итог: %s статус=%s регистрация=%s", peer, rec.Status, rec.Registration)
	}
}

func runAddressBookSync(username, domain string, peers []string) {
	log.Printf("Синхронизация адресной книги: %d контактов", len(peers))

	cache := contacts.NewCache()
	svc := discovery.NewService(demoConfig(username, domain), demoTransport(), cache,
		staticBook{contacts: peers}, sipcore.GetDefaultLogger())
	svc.AddListener(printer{})
	svc.Start()
	defer svc.Stop()

	// Синхронизация идет в фоне: сверка книги, пакет OPTIONS, ожидание
	time.Sleep(time.Second)
	log.Printf("в кэше %d записей", cache.Count())
}

func runIncomingOptions(username, domain string) {
	log.Printf("Обработка входящего запроса возможностей")

	cache := contacts.NewCache()
	tr := sipcore.NewMockTransport()
	svc := discovery.NewService(demoConfig(username, domain), tr, cache,
		staticBook{}, sipcore.GetDefaultLogger())

	req := sip.NewRequest(sip.OPTIONS, sip.Uri{Scheme: "sip", User: username, Host: domain})
	req.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: "bob", Host: domain},
		Params:  sip.NewParams().Add("tag", "demo"),
	})
	req.AppendHeader(sip.NewHeader("Contact", `<sip:bob@127.0.0.1>;+g.oma.sip-im`))

	if err := svc.OnCapabilityRequestReceived(req, tr); err != nil {
		log.Fatalf("Ошибка обработки запроса: %v", err)
	}
	for _, res := range tr.SentResponses() {
		log.Printf("ответ: %d %s", res.StatusCode, res.Reason)
		if c := res.GetHeader("Contact"); c != nil {
			log.Printf("наши теги: %s", c.Value())
		}
	}
	if rec, ok := cache.Get("bob"); ok {
		log.Printf("возможности запросившего: %s", rec.Capability.String())
	}
}
