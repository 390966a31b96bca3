package line_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/multiline/pkg/line"
)

// fakeSession сессия стека для тестов.
// События генерируются синхронно в вызывающей горутине.
type fakeSession struct {
	mu      sync.Mutex
	remote  string
	dir     line.Direction
	handler line.EventHandler
	queued  []line.SessionEvent

	// async копит события до flush, как очередь событий сессии стека
	async    bool
	deferred []line.SessionEvent

	calls        []string
	referTargets []string
	confirmed    bool

	holdErr      error
	unholdErr    error
	answerErr    error
	referErr     error
	referOutcome *line.SessionEvent
}

var _ line.Session = (*fakeSession)(nil)

func newFakeSession(remote string, dir line.Direction) *fakeSession {
	return &fakeSession{remote: remote, dir: dir}
}

func (s *fakeSession) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeSession) emit(ev line.SessionEvent) {
	s.mu.Lock()
	if ev.Kind == line.EventConfirmed {
		s.confirmed = true
	}
	if s.async {
		s.deferred = append(s.deferred, ev)
		s.mu.Unlock()
		return
	}
	h := s.handler
	if h == nil {
		s.queued = append(s.queued, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	h(ev)
}

// deliverLater включает отложенную доставку событий
func (s *fakeSession) deliverLater() {
	s.mu.Lock()
	s.async = true
	s.mu.Unlock()
}

// flush доставляет накопленные события и возвращает синхронный режим
func (s *fakeSession) flush() {
	s.mu.Lock()
	s.async = false
	evs := s.deferred
	s.deferred = nil
	h := s.handler
	s.mu.Unlock()
	for _, ev := range evs {
		h(ev)
	}
}

func (s *fakeSession) emitKind(k line.EventKind) {
	s.emit(line.SessionEvent{Kind: k})
}

func (s *fakeSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) ReferTargets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.referTargets...)
}

func (s *fakeSession) SetRemoteURI(uri string) {
	s.mu.Lock()
	s.remote = uri
	s.mu.Unlock()
}

func (s *fakeSession) Answer(ctx context.Context) error {
	s.record("answer")
	if s.answerErr != nil {
		return s.answerErr
	}
	s.emitKind(line.EventConfirmed)
	return nil
}

func (s *fakeSession) Terminate(ctx context.Context, code int, reason string) error {
	s.record(fmt.Sprintf("terminate:%d:%s", code, reason))
	s.mu.Lock()
	confirmed := s.confirmed
	s.mu.Unlock()
	if confirmed {
		s.emit(line.SessionEvent{Kind: line.EventEnded, Reason: "local"})
	} else {
		s.emit(line.SessionEvent{Kind: line.EventFailed, Code: code, Reason: reason})
	}
	return nil
}

func (s *fakeSession) Hold(ctx context.Context) error {
	s.record("hold")
	if s.holdErr != nil {
		return s.holdErr
	}
	s.emitKind(line.EventHold)
	return nil
}

func (s *fakeSession) Unhold(ctx context.Context) error {
	s.record("unhold")
	if s.unholdErr != nil {
		return s.unholdErr
	}
	s.emitKind(line.EventUnhold)
	return nil
}

func (s *fakeSession) Mute() error {
	s.record("mute")
	s.emitKind(line.EventMuted)
	return nil
}

func (s *fakeSession) Unmute() error {
	s.record("unmute")
	s.emitKind(line.EventUnmuted)
	return nil
}

func (s *fakeSession) SendDTMF(ctx context.Context, digits string) error {
	s.record("dtmf:" + digits)
	return nil
}

func (s *fakeSession) Refer(ctx context.Context, target string) error {
	s.mu.Lock()
	s.calls = append(s.calls, "refer")
	s.referTargets = append(s.referTargets, target)
	outcome := s.referOutcome
	s.mu.Unlock()
	if s.referErr != nil {
		return s.referErr
	}
	if outcome != nil {
		s.emit(*outcome)
	}
	return nil
}

func (s *fakeSession) RemoteURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *fakeSession) Direction() line.Direction { return s.dir }

func (s *fakeSession) OnEvent(h line.EventHandler) {
	s.mu.Lock()
	s.handler = h
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()
	for _, ev := range queued {
		h(ev)
	}
}

// fakeUA стек для тестов
type fakeUA struct {
	mu       sync.Mutex
	incoming func(line.Session)
	sessions map[string]*fakeSession

	placeErr    error
	placeCalls  int
	placeGate   chan struct{}
	placeBegun  chan struct{}
	registerErr error
	blockReg    bool
	registered  bool
}

var _ line.UserAgent = (*fakeUA)(nil)

func newFakeUA() *fakeUA {
	return &fakeUA{sessions: make(map[string]*fakeSession)}
}

func (u *fakeUA) Register(ctx context.Context) error {
	if u.blockReg {
		<-ctx.Done()
		return ctx.Err()
	}
	if u.registerErr != nil {
		return u.registerErr
	}
	u.mu.Lock()
	u.registered = true
	u.mu.Unlock()
	return nil
}

func (u *fakeUA) Unregister(ctx context.Context) error {
	u.mu.Lock()
	u.registered = false
	u.mu.Unlock()
	return nil
}

func (u *fakeUA) IsRegistered() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.registered
}

func (u *fakeUA) IsConnected() bool { return true }

func (u *fakeUA) PlaceCall(ctx context.Context, target string, h line.EventHandler) (line.Session, error) {
	u.mu.Lock()
	u.placeCalls++
	err := u.placeErr
	gate, begun := u.placeGate, u.placeBegun
	u.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if gate != nil {
		close(begun)
		<-gate
	}

	s := newFakeSession("sip:"+target+"@pbx.local", line.Outgoing)
	s.OnEvent(h)
	u.mu.Lock()
	u.sessions[target] = s
	u.mu.Unlock()
	s.emitKind(line.EventConnecting)
	return s, nil
}

func (u *fakeUA) OnIncoming(h func(line.Session)) {
	u.mu.Lock()
	u.incoming = h
	u.mu.Unlock()
}

func (u *fakeUA) session(target string) *fakeSession {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessions[target]
}

// invite имитирует входящий INVITE
func (u *fakeUA) invite(remote string) *fakeSession {
	s := newFakeSession(remote, line.Incoming)
	u.mu.Lock()
	h := u.incoming
	u.mu.Unlock()
	h(s)
	return s
}

// recorder Sink, сохраняющий уведомления по порядку
type recorder struct {
	mu       sync.Mutex
	events   []string
	failures []error
	regErrs  []error
}

var (
	_ line.Sink                = (*recorder)(nil)
	_ line.TransferFailureSink = (*recorder)(nil)
	_ line.RegistrationSink    = (*recorder)(nil)
)

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnLineAdded(l line.Line)       { r.add("added:" + l.ID) }
func (r *recorder) OnLineRemoved(id string)       { r.add("removed:" + id) }
func (r *recorder) OnLineChanged(l line.Line)     { r.add("changed:" + l.ID) }
func (r *recorder) OnActiveLineChanged(id string) { r.add("active:" + id) }

func (r *recorder) OnTransferFailed(id string, err error) {
	r.mu.Lock()
	r.failures = append(r.failures, err)
	r.mu.Unlock()
	r.add("transfer_failed:" + id)
}

func (r *recorder) OnRegistrationFailed(err error) {
	r.mu.Lock()
	r.regErrs = append(r.regErrs, err)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// count число уведомлений ev
func (r *recorder) count(ev string) int {
	n := 0
	for _, e := range r.Events() {
		if e == ev {
			n++
		}
	}
	return n
}

type harness struct {
	m   *line.Manager
	ua  *fakeUA
	rec *recorder
	inv chan *line.Invitation
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("line-%d", n)
	}
}

func newHarness(t *testing.T, opts ...func(*line.Config)) *harness {
	t.Helper()

	h := &harness{
		ua:  newFakeUA(),
		rec: &recorder{},
		inv: make(chan *line.Invitation, 16),
	}

	cfg := line.DefaultConfig()
	cfg.NewID = sequentialIDs()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.OnIncoming = func(inv *line.Invitation) { h.inv <- inv }
	for _, opt := range opts {
		opt(&cfg)
	}

	m, err := line.NewManager(cfg, h.ua)
	require.NoError(t, err)
	m.Start()
	m.Subscribe(h.rec)
	h.m = m

	t.Cleanup(func() {
		_ = m.Close(context.Background())
	})
	return h
}

// invitation последнее входящее приглашение
func (h *harness) invitation(t *testing.T) *line.Invitation {
	t.Helper()
	select {
	case inv := <-h.inv:
		return inv
	default:
		require.FailNow(t, "no invitation delivered")
		return nil
	}
}

// establishedIncoming принимает входящий вызов и возвращает его линию и сессию
func (h *harness) establishedIncoming(t *testing.T, remote string) (string, *fakeSession) {
	t.Helper()
	s := h.ua.invite(remote)
	inv := h.invitation(t)
	require.NoError(t, inv.Accept(context.Background()))
	return inv.ID(), s
}

// establishedOutgoing совершает исходящий вызов и подтверждает его
func (h *harness) establishedOutgoing(t *testing.T, target string) (string, *fakeSession) {
	t.Helper()
	l, err := h.m.Call(context.Background(), target)
	require.NoError(t, err)
	s := h.ua.session(target)
	require.NotNil(t, s)
	s.emitKind(line.EventConfirmed)
	return l.ID, s
}

// requireSingleActive проверяет инвариант единственной линии без удержания
func requireSingleActive(t *testing.T, m *line.Manager) {
	t.Helper()
	active := m.ActiveLine()
	nonHeld := 0
	for _, l := range m.Lines() {
		if !l.IsHeld {
			nonHeld++
			require.Equal(t, active, l.ID, "non-held line must be the active one")
		}
	}
	require.LessOrEqual(t, nonHeld, 1)
}
