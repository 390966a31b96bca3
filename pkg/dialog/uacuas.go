package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/arzzra/multiline/pkg/line"
)

// ConnectionEvent событие подключения и регистрации агента
type ConnectionEvent int

const (
	ConnectionConnecting ConnectionEvent = iota
	ConnectionConnected
	ConnectionDisconnected
	ConnectionRegistered
	ConnectionUnregistered
	ConnectionRegistrationFailed
	ConnectionRegistrationExpiring
)

var connectionEventNames = map[ConnectionEvent]string{
	ConnectionConnecting:           "connecting",
	ConnectionConnected:            "connected",
	ConnectionDisconnected:         "disconnected",
	ConnectionRegistered:           "registered",
	ConnectionUnregistered:         "unregistered",
	ConnectionRegistrationFailed:   "registrationFailed",
	ConnectionRegistrationExpiring: "registrationExpiring",
}

func (e ConnectionEvent) String() string {
	if name, ok := connectionEventNames[e]; ok {
		return name
	}
	return "unknown"
}

// UACUAS SIP агент: клиент и сервер sipgo, общие для всех диалогов.
// Реализует line.UserAgent.
type UACUAS struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics

	ua  *sipgo.UserAgent
	uas *sipgo.Server
	uac *sipgo.Client
	req requester

	dialogs   *SessionMap
	aor       sip.Uri
	registrar sip.Uri
	contact   sip.Uri

	newTag    func() string
	newCallID func() string
	newSDPID  func() uint64

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	incoming   func(line.Session)
	connEvents func(ConnectionEvent)
	regTimer   *time.Timer
	regCallID  string
	regCSeq    uint32

	connected  atomic.Bool
	registered atomic.Bool
}

var _ line.UserAgent = (*UACUAS)(nil)

// NewUACUAS создает агента. Входящие запросы обрабатываются после Listen.
func NewUACUAS(cfg Config) (*UACUAS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "неверная конфигурация SIP агента")
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(cfg.UserAgent),
		sipgo.WithUserAgentHostname(cfg.Transport.Host),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания User Agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return nil, fmt.Errorf("ошибка создания сервера: %w", err)
	}
	uac, err := sipgo.NewClient(ua, sipgo.WithClientHostname(cfg.Transport.Host))
	if err != nil {
		_ = ua.Close()
		return nil, fmt.Errorf("ошибка создания клиента: %w", err)
	}

	u, err := newUACUAS(cfg, sipgoRequester{uac: uac})
	if err != nil {
		_ = ua.Close()
		return nil, err
	}
	u.ua, u.uas, u.uac = ua, srv, uac
	u.onRequests()
	return u, nil
}

// newUACUAS собирает агента поверх произвольного requester
func newUACUAS(cfg Config, r requester) (*UACUAS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "неверная конфигурация SIP агента")
	}
	aor, err := parseURI(fmt.Sprintf("sip:%s@%s", cfg.Username, cfg.Realm))
	if err != nil {
		return nil, err
	}
	registrar, err := parseURI("sip:" + cfg.Realm)
	if err != nil {
		return nil, err
	}
	contactRaw := fmt.Sprintf("sip:%s@%s", cfg.Username, cfg.Transport.Addr())
	if cfg.Transport.Type != TransportUDP {
		contactRaw += ";transport=" + cfg.Transport.Type.Network()
	}
	contact, err := parseURI(contactRaw)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	u := &UACUAS{
		cfg:       cfg,
		log:       cfg.Logger.With(slog.String("component", "dialog")),
		metrics:   newMetrics(cfg.Registerer),
		req:       r,
		aor:       aor,
		registrar: registrar,
		contact:   contact,
		newTag:    func() string { return sip.RandString(8) },
		newCallID: uuid.NewString,
		newSDPID:  func() uint64 { return uint64(time.Now().UnixNano()) },
		ctx:       ctx,
		cancel:    cancel,
		regCallID: uuid.NewString(),
	}
	u.dialogs = NewSessionMap(func(n int) { u.metrics.dialogs.Set(float64(n)) })
	return u, nil
}

func parseURI(raw string) (sip.Uri, error) {
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return sip.Uri{}, errors.Wrapf(err, "неверный SIP URI %q", raw)
	}
	return uri, nil
}

// Listen запускает прием запросов на настроенном транспорте и блокируется
// до отмены ctx
func (u *UACUAS) Listen(ctx context.Context) error {
	if u.uas == nil {
		return errors.New("SIP сервер не создан")
	}

	t := u.cfg.Transport
	u.notify(ConnectionConnecting)
	u.connected.Store(true)
	u.notify(ConnectionConnected)
	u.log.Info("SIP listener started",
		slog.String("network", t.Type.Network()),
		slog.String("addr", t.Addr()))

	var err error
	switch {
	case (t.Type == TransportTLS || t.Type == TransportWSS) && t.TLSConfig == nil:
		// входящие запросы приходят по исходящим соединениям клиента
		<-ctx.Done()
	case t.Type == TransportTLS || t.Type == TransportWSS:
		err = u.uas.ListenAndServeTLS(ctx, t.Type.Network(), t.Addr(), t.TLSConfig)
	default:
		err = u.uas.ListenAndServe(ctx, t.Type.Network(), t.Addr())
	}

	u.connected.Store(false)
	u.notify(ConnectionDisconnected)
	if ctx.Err() != nil {
		return nil
	}
	return errors.Wrap(err, "ошибка SIP транспорта")
}

// Close останавливает обновление регистрации, отменяет незавершенные
// INVITE и закрывает транспорты
func (u *UACUAS) Close() error {
	u.stopRefresh()
	u.cancel()
	if u.ua != nil {
		return u.ua.Close()
	}
	return nil
}

func (u *UACUAS) IsConnected() bool {
	return u.connected.Load()
}

// OnIncoming устанавливает обработчик входящих вызовов.
// Без обработчика входящие INVITE отклоняются 480.
func (u *UACUAS) OnIncoming(h func(line.Session)) {
	u.mu.Lock()
	u.incoming = h
	u.mu.Unlock()
}

// OnConnectionEvent устанавливает обработчик событий подключения и регистрации
func (u *UACUAS) OnConnectionEvent(h func(ConnectionEvent)) {
	u.mu.Lock()
	u.connEvents = h
	u.mu.Unlock()
}

func (u *UACUAS) notify(ev ConnectionEvent) {
	u.mu.Lock()
	h := u.connEvents
	u.mu.Unlock()

	u.log.Debug("connection event", slog.String("event", ev.String()))
	if h != nil {
		h(ev)
	}
}

// PlaceCall создает исходящий диалог и отправляет INVITE в отдельной горутине.
// Обработчик h подключается до отправки INVITE.
func (u *UACUAS) PlaceCall(ctx context.Context, target string, h line.EventHandler) (line.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uri, err := u.targetURI(target)
	if err != nil {
		return nil, err
	}

	s := u.newSession(line.Outgoing, u.newCallID(), u.newTag())
	s.mu.Lock()
	s.local = u.aor
	s.remote = uri
	s.remoteTarget = uri
	offer, err := s.localSDPLocked(sdpSendRecv)
	s.mu.Unlock()
	if err != nil {
		s.cancel()
		return nil, err
	}

	s.OnEvent(h)
	u.dialogs.Put(s, "")
	s.pushKind(line.EventConnecting)

	u.log.Debug("PlaceCall", slog.String("target", uri.String()), slog.String("callID", s.CallID()))
	go s.runInvite(offer)
	return s, nil
}

// targetURI приводит номер или адрес к SIP URI.
// Номер без домена дополняется доменом учетной записи.
func (u *UACUAS) targetURI(target string) (sip.Uri, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return sip.Uri{}, errors.New("пустой адрес назначения")
	}

	raw := target
	switch {
	case strings.HasPrefix(raw, "sip:"), strings.HasPrefix(raw, "sips:"):
	case strings.Contains(raw, "@"):
		raw = "sip:" + raw
	default:
		raw = "sip:" + raw + "@" + u.cfg.Realm
	}
	return parseURI(raw)
}

func (u *UACUAS) contactHeader() *sip.ContactHeader {
	return &sip.ContactHeader{Address: u.contact}
}

// route дополняет исходящий запрос транспортом и адресом прокси
func (u *UACUAS) route(req *sip.Request) {
	req.AppendHeader(sip.NewHeader("User-Agent", u.cfg.UserAgent))
	req.SetTransport(string(u.cfg.Transport.Type))
	if u.cfg.Server != "" {
		req.SetDestination(u.cfg.Server)
	}
}
