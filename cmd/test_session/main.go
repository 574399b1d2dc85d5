package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/media"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

func main() {
	var (
		username = flag.String("user", "alice", "Собственная идентичность")
		domain   = flag.String("domain", "example.com", "Домен IMS сети")
		target   = flag.String("target", "bob", "Вызываемый контакт")
		video    = flag.Bool("video", false, "Предлагать видеопоток")
		mode     = flag.String("mode", "outgoing", "Режим: outgoing, hold")
	)
	flag.Parse()

	switch *mode {
	case "outgoing":
		runOutgoingCall(*username, *domain, *target, *video)
	case "hold":
		runHoldResume(*username, *domain, *target)
	default:
		fmt.Printf("Неизвестный режим: %s\n", *mode)
		fmt.Println("Доступные режимы: outgoing, hold")
		os.Exit(1)
	}
}

func demoConfig(username, domain string) session.Config {
	cfg := session.DefaultConfig()
	cfg.LocalUser = username
	cfg.LocalDomain = domain
	cfg.LocalAddress = "127.0.0.1"
	cfg.SupportedAudioCodecs = []codec.Codec{
		{Encoding: "PCMA", PayloadType: 8, ClockRate: 8000},
		{Encoding: "AMR", PayloadType: 97, ClockRate: 8000},
	}
	cfg.SupportedVideoCodecs = []codec.Codec{
		{Encoding: "H264", PayloadType: 96, ClockRate: 90000},
	}
	return cfg
}

// demoTransport эмулирует удаленный терминал, принимающий любой INVITE
func demoTransport() *sipcore.MockTransport {
	tr := sipcore.NewMockTransport()
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		if req.Method != sip.INVITE {
			return sipcore.Reply(req, sipcore.StatusOK, "OK"), nil
		}
		body, err := codec.BuildDescription("127.0.0.2",
			codec.MediaSpec{Media: "audio", Port: 5000,
				Codecs: []codec.Codec{{Encoding: "AMR", PayloadType: 97, ClockRate: 8000}}})
		if err != nil {
			return sipcore.TransactionResult{}, err
		}
		res := sipcore.ReplyWithBody(req, sipcore.StatusOK, "OK", "application/sdp", body)
		if to := res.Response.To(); to != nil {
			to.Params = to.Params.Add("tag", "remote-demo")
		}
		return res, nil
	}
	return tr
}

// reporter печатает события жизненного цикла сессии
type reporter struct {
	session.NoOpListener
	started    chan *session.Session
	terminated chan struct{}
}

func (r *reporter) OnSessionStarted(s *session.Session) {
	log.Printf("сессия установлена: %s кодек=%s", s.Peer(), s.AudioCodec().Encoding)
	r.started <- s
}

func (r *reporter) OnSessionTerminated(*session.Session) {
	log.Printf("сессия завершена")
	r.terminated <- struct{}{}
}

func (r *reporter) OnCallError(_ *session.Session, code session.ErrorCode) {
	log.Printf("ошибка сессии: %s", code)
}

func (r *reporter) OnRenegotiationAccepted(_ *session.Session, kind session.RenegotiationKind) {
	log.Printf("перезапрос принят: %s", kind)
}

func runOutgoingCall(username, domain, target string, video bool) {
	log.Printf("Исходящий звонок: %s@%s → %s", username, domain, target)

	rep := &reporter{started: make(chan *session.Session, 1), terminated: make(chan struct{}, 1)}
	mgr := session.NewManager(demoConfig(username, domain), demoTransport(),
		sipcore.GetDefaultLogger(), rep)

	if _, err := mgr.Initiate(context.Background(), target, video); err != nil {
		log.Fatalf("Ошибка инициации: %v", err)
	}

	select {
	case s := <-rep.started:
		host, port := s.RemoteAudioEndpoint()
		log.Printf("удаленное медиа: %s:%d", host, port)
		playTone(s, host, port)
		s.Terminate()
		<-rep.terminated
	case <-time.After(2 * time.Second):
		log.Fatal("сессия не установилась")
	}
}

// playTone открывает аудио плеер к согласованному адресу и отправляет
// короткую посылку RTP кадров
func playTone(s *session.Session, host string, port int) {
	player := media.NewAudioPlayer([]codec.Codec{s.AudioCodec()})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := player.Open(ctx, s.AudioCodec(), fmt.Sprintf("%s:%d", host, port)); err != nil {
		log.Printf("медиатранспорт не открылся: %v", err)
		return
	}
	defer player.Close()

	frame := make([]byte, 160)
	for i := 0; i < 5; i++ {
		if err := player.SendFrame(frame, 160, i == 0); err != nil {
			log.Printf("отправка кадра: %v", err)
			return
		}
	}
	log.Printf("отправлено 5 RTP кадров")
}

func runHoldResume(username, domain, target string) {
	log.Printf("Демонстрация удержания: %s@%s → %s", username, domain, target)

	rep := &reporter{started: make(chan *session.Session, 1), terminated: make(chan struct{}, 1)}
	mgr := session.NewManager(demoConfig(username, domain), demoTransport(),
		sipcore.GetDefaultLogger(), rep)

	if _, err := mgr.Initiate(context.Background(), target, false); err != nil {
		log.Fatalf("Ошибка инициации: %v", err)
	}
	s := <-rep.started

	ctx := context.Background()
	if err := s.SetOnHold(ctx, true); err != nil {
		log.Fatalf("Ошибка удержания: %v", err)
	}
	log.Printf("на удержании: %v", s.OnHold())

	if err := s.SetOnHold(ctx, false); err != nil {
		log.Fatalf("Ошибка возобновления: %v", err)
	}
	log.Printf("на удержании: %v", s.OnHold())

	s.Terminate()
	<-rep.terminated
}
