package dialog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/multiline/pkg/line"
)

const waitTimeout = 2 * time.Second

// fakeClientTx клиентская транзакция, ответы в которую кладет тест
type fakeClientTx struct {
	responses chan *sip.Response
	done      chan struct{}
	once      sync.Once
}

func newFakeClientTx() *fakeClientTx {
	return &fakeClientTx{
		responses: make(chan *sip.Response, 16),
		done:      make(chan struct{}),
	}
}

func (tx *fakeClientTx) Responses() <-chan *sip.Response { return tx.responses }
func (tx *fakeClientTx) Done() <-chan struct{}           { return tx.done }
func (tx *fakeClientTx) Err() error                      { return nil }
func (tx *fakeClientTx) Terminate()                      { tx.once.Do(func() { close(tx.done) }) }

// sentRequest отправленный запрос и его транзакция
type sentRequest struct {
	req *sip.Request
	tx  *fakeClientTx
}

// fakeRequester записывает исходящие запросы.
// Для методов со сценарием ответ кладется в транзакцию сразу,
// остальным отвечает тест через reply.
type fakeRequester struct {
	mu      sync.Mutex
	scripts map[sip.RequestMethod][]int

	sent   chan sentRequest
	writes chan *sip.Request
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{
		scripts: make(map[sip.RequestMethod][]int),
		sent:    make(chan sentRequest, 64),
		writes:  make(chan *sip.Request, 64),
	}
}

// script задает коды ответов на следующие запросы метода
func (r *fakeRequester) script(method sip.RequestMethod, codes ...int) {
	r.mu.Lock()
	r.scripts[method] = append(r.scripts[method], codes...)
	r.mu.Unlock()
}

func (r *fakeRequester) nextCode(method sip.RequestMethod) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := r.scripts[method]
	if len(codes) == 0 {
		return 0
	}
	r.scripts[method] = codes[1:]
	return codes[0]
}

func (r *fakeRequester) Request(_ context.Context, req *sip.Request, addVia bool) (clientTx, error) {
	if addVia {
		req.PrependHeader(&sip.ViaHeader{
			ProtocolName:    "SIP",
			ProtocolVersion: "2.0",
			Transport:       "UDP",
			Host:            "127.0.0.1",
			Port:            5060,
			Params:          sip.NewParams().Add("branch", sip.GenerateBranch()),
		})
	}
	tx := newFakeClientTx()
	if code := r.nextCode(req.Method); code != 0 {
		tx.responses <- reply(req, code, "")
	}
	r.sent <- sentRequest{req: req, tx: tx}
	return tx, nil
}

func (r *fakeRequester) Write(req *sip.Request) error {
	r.writes <- req
	return nil
}

func (r *fakeRequester) next(t *testing.T) sentRequest {
	t.Helper()
	select {
	case s := <-r.sent:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("запрос не отправлен")
		return sentRequest{}
	}
}

func (r *fakeRequester) nextWrite(t *testing.T) *sip.Request {
	t.Helper()
	select {
	case req := <-r.writes:
		return req
	case <-time.After(waitTimeout):
		t.Fatal("запрос без транзакции не отправлен")
		return nil
	}
}

func (r *fakeRequester) requireIdle(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.sent:
		t.Fatalf("неожиданный запрос %s", s.req.Method)
	default:
	}
}

const remoteTag = "bobtag"

// reply ответ удаленной стороны на запрос
func reply(req *sip.Request, code int, reason string) *sip.Response {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if code > sip.StatusTrying {
		// sipgo ставит случайный тег, удаленная сторона всегда отвечает своим
		withTag(res, remoteTag)
	}
	if code == sip.StatusUnauthorized {
		res.AppendHeader(sip.NewHeader("WWW-Authenticate",
			`Digest realm="example.com", nonce="5f2d8a", algorithm=MD5`))
	}
	if req.Method == sip.INVITE && code >= 200 && code < 300 {
		res.AppendHeader(&sip.ContactHeader{Address: sip.Uri{User: "bob", Host: "10.0.0.2", Port: 5070}})
		offer, _ := buildSDP(sdpParams{Host: "10.0.0.2", Port: 6000, SessionID: 7, Version: 1})
		setContent(res, contentTypeSDP, offer)
	}
	return res
}

func (s sentRequest) reply(code int, reason string) {
	s.tx.responses <- reply(s.req, code, reason)
}

// fakeServerTx серверная транзакция, записывающая ответы
type fakeServerTx struct {
	responses chan *sip.Response
	done      chan struct{}
}

func newFakeServerTx() *fakeServerTx {
	return &fakeServerTx{
		responses: make(chan *sip.Response, 16),
		done:      make(chan struct{}),
	}
}

func (tx *fakeServerTx) Respond(res *sip.Response) error {
	tx.responses <- res
	return nil
}

func (tx *fakeServerTx) Done() <-chan struct{} { return tx.done }

func (tx *fakeServerTx) next(t *testing.T) *sip.Response {
	t.Helper()
	select {
	case res := <-tx.responses:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("ответ не отправлен")
		return nil
	}
}

// eventRecorder собирает события сессии
type eventRecorder struct {
	ch chan line.SessionEvent
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan line.SessionEvent, 32)}
}

func (r *eventRecorder) handle(ev line.SessionEvent) {
	r.ch <- ev
}

func (r *eventRecorder) next(t *testing.T) line.SessionEvent {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("событие не получено")
		return line.SessionEvent{}
	}
}

func (r *eventRecorder) requireKind(t *testing.T, want line.EventKind) line.SessionEvent {
	t.Helper()
	ev := r.next(t)
	require.Equal(t, want.String(), ev.Kind.String())
	return ev
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Username = "alice"
	cfg.Password = "secret"
	cfg.Realm = "example.com"
	cfg.DTMFInterToneGap = time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

// newTestUA агент поверх fakeRequester
func newTestUA(t *testing.T) (*UACUAS, *fakeRequester) {
	t.Helper()
	return newTestUAWithConfig(t, testConfig())
}

func newTestUAWithConfig(t *testing.T, cfg Config) (*UACUAS, *fakeRequester) {
	t.Helper()
	r := newFakeRequester()
	u, err := newUACUAS(cfg, r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = u.Close() })
	return u, r
}

// incomingInvite начальный INVITE от bob
func incomingInvite(callID string, direction string) *sip.Request {
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "alice", Host: "127.0.0.1", Port: 5060})
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            "10.0.0.2",
		Port:            5070,
		Params:          sip.NewParams().Add("branch", sip.GenerateBranch()),
	})
	req.AppendHeader(&sip.FromHeader{
		DisplayName: "Bob",
		Address:     sip.Uri{User: "bob", Host: "example.com"},
		Params:      sip.NewParams().Add("tag", remoteTag),
	})
	req.AppendHeader(&sip.ToHeader{Address: sip.Uri{User: "alice", Host: "example.com"}, Params: sip.NewParams()})
	req.AppendHeader(&sip.ContactHeader{Address: sip.Uri{User: "bob", Host: "10.0.0.2", Port: 5070}})
	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	offer, _ := buildSDP(sdpParams{Host: "10.0.0.2", Port: 6000, SessionID: 7, Version: 1, Direction: direction})
	setContent(req, contentTypeSDP, offer)
	return req
}

// standaloneRequest запрос bob вне диалога с обязательными заголовками
func standaloneRequest(method sip.RequestMethod, recipient sip.Uri) *sip.Request {
	req := sip.NewRequest(method, recipient)
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            "10.0.0.2",
		Port:            5070,
		Params:          sip.NewParams().Add("branch", sip.GenerateBranch()),
	})
	req.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{User: "bob", Host: "example.com"},
		Params:  sip.NewParams().Add("tag", remoteTag),
	})
	req.AppendHeader(&sip.ToHeader{Address: recipient, Params: sip.NewParams()})
	cid := sip.CallIDHeader("standalone-" + string(method))
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: method})
	return req
}

// remoteRequest внутридиалоговый запрос удаленной стороны к сессии s
func remoteRequest(s *Session, method sip.RequestMethod, cseq uint32) *sip.Request {
	req := sip.NewRequest(method, s.ua.contact)
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            "10.0.0.2",
		Port:            5070,
		Params:          sip.NewParams().Add("branch", sip.GenerateBranch()),
	})
	req.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{User: "bob", Host: "example.com"},
		Params:  sip.NewParams().Add("tag", remoteTag),
	})
	req.AppendHeader(&sip.ToHeader{
		Address: s.localURI(),
		Params:  sip.NewParams().Add("tag", s.localTag),
	})
	cid := s.callID
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: method})
	return req
}

// acceptIncoming запускает обработку входящего INVITE и ждет сессию
func acceptIncoming(t *testing.T, u *UACUAS, req *sip.Request) (*Session, *fakeServerTx, <-chan struct{}) {
	t.Helper()
	sessions := make(chan line.Session, 1)
	u.OnIncoming(func(s line.Session) { sessions <- s })

	tx := newFakeServerTx()
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.handleInvite(req, tx)
	}()

	select {
	case s := <-sessions:
		return s.(*Session), tx, done
	case <-time.After(waitTimeout):
		t.Fatal("входящая сессия не создана")
		return nil, nil, nil
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("обработчик не завершился")
	}
}

// establishOutgoing подтвержденный исходящий вызов на bob
func establishOutgoing(t *testing.T, u *UACUAS, r *fakeRequester) (*Session, *eventRecorder) {
	t.Helper()
	rec := newEventRecorder()
	ls, err := u.PlaceCall(context.Background(), "bob", rec.handle)
	require.NoError(t, err)
	s := ls.(*Session)

	invite := r.next(t)
	invite.reply(sip.StatusOK, "OK")
	r.nextWrite(t)

	rec.requireKind(t, line.EventConnecting)
	rec.requireKind(t, line.EventConfirmed)
	require.Equal(t, stateConfirmed, s.State())
	return s, rec
}
