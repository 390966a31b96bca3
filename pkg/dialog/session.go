package dialog

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/arzzra/multiline/pkg/line"
)

// Состояния диалога (RFC 3261, раздел 12)
const (
	stateNone        = "none"
	stateEarly       = "early"
	stateConfirmed   = "confirmed"
	stateTerminating = "terminating"
	stateTerminated  = "terminated"
)

func newDialogFSM() *fsm.FSM {
	return fsm.NewFSM(
		stateNone,
		fsm.Events{
			// Переход в ранний диалог
			{Name: "early", Src: []string{stateNone}, Dst: stateEarly},
			// Переход в подтвержденный диалог
			{Name: "confirm", Src: []string{stateNone, stateEarly}, Dst: stateConfirmed},
			// Начало завершения
			{Name: "terminate", Src: []string{stateNone, stateEarly, stateConfirmed}, Dst: stateTerminating},
			// Завершение диалога
			{Name: "terminated", Src: []string{stateNone, stateEarly, stateConfirmed, stateTerminating}, Dst: stateTerminated},
		},
		fsm.Callbacks{},
	)
}

// Session диалог одного вызова. Реализует line.Session.
type Session struct {
	ua     *UACUAS
	dir    line.Direction
	log    *slog.Logger
	events eventQueue

	callID   sip.CallIDHeader
	localTag string
	// ветка Via начального INVITE, охраняется мьютексом SessionMap
	branch string

	ctx     context.Context
	cancel  context.CancelFunc
	settled chan struct{}
	settle  func()

	// сериализует re-INVITE удержания
	reinviteMu sync.Mutex

	mu           sync.Mutex
	state        *fsm.FSM
	remoteTag    string
	local        sip.Uri
	remote       sip.Uri
	remoteName   string
	remoteTarget sip.Uri
	routeSet     []sip.Uri
	localCSeq    uint32
	invite       *sip.Request
	inviteTx     serverTx
	answered     bool
	canceling    bool
	held         bool
	muted        bool
	sdpID        uint64
	sdpVersion   uint64
	refer        *referSub
}

var _ line.Session = (*Session)(nil)

func (u *UACUAS) newSession(dir line.Direction, callID, localTag string) *Session {
	ctx, cancel := context.WithCancel(u.ctx)
	settled := make(chan struct{})
	s := &Session{
		ua:       u,
		dir:      dir,
		callID:   sip.CallIDHeader(callID),
		localTag: localTag,
		ctx:      ctx,
		cancel:   cancel,
		settled:  settled,
		settle:   sync.OnceFunc(func() { close(settled) }),
		state:    newDialogFSM(),
		sdpID:    u.newSDPID(),
	}
	s.log = u.log.With(
		slog.String("callID", callID),
		slog.String("direction", dir.String()))
	return s
}

func (s *Session) key() SessionKey {
	return SessionKey{CallID: s.callID, LocalTag: s.localTag}
}

// fire выполняет переход диалога, вызывается под s.mu
func (s *Session) fire(event string) bool {
	if !s.state.Can(event) {
		return false
	}
	return s.state.Event(context.Background(), event) == nil
}

// State текущее состояние диалога
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Current()
}

func (s *Session) push(ev line.SessionEvent) {
	s.events.push(ev)
}

func (s *Session) pushKind(k line.EventKind) {
	s.events.push(line.SessionEvent{Kind: k})
}

func (s *Session) OnEvent(h line.EventHandler) {
	s.events.setHandler(h)
}

func (s *Session) Direction() line.Direction { return s.dir }

// RemoteURI адрес удаленной стороны без параметров URI
func (s *Session) RemoteURI() string {
	s.mu.Lock()
	uri := s.remote
	s.mu.Unlock()
	uri.UriParams = nil
	uri.Headers = nil
	return uri.String()
}

// CallID значение Call-ID диалога
func (s *Session) CallID() string {
	return string(s.callID)
}

func (s *Session) IsHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

func (s *Session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) localURI() sip.Uri {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// localSDPLocked формирует следующую версию локального SDP, вызывается под s.mu
func (s *Session) localSDPLocked(direction string) ([]byte, error) {
	s.sdpVersion++
	return buildSDP(sdpParams{
		Host:      s.ua.cfg.MediaHost,
		Port:      s.ua.cfg.MediaPort,
		SessionID: s.sdpID,
		Version:   s.sdpVersion,
		Direction: direction,
	})
}

// makeRequest создает внутридиалоговый запрос
func (s *Session) makeRequest(method sip.RequestMethod) *sip.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.makeRequestLocked(method)
}

func (s *Session) makeRequestLocked(method sip.RequestMethod) *sip.Request {
	s.localCSeq++
	newRequest := sip.NewRequest(method, s.remoteTarget)

	fromHeader := &sip.FromHeader{
		DisplayName: s.ua.cfg.DisplayName,
		Address:     s.local,
		Params:      sip.NewParams().Add("tag", s.localTag),
	}
	newRequest.AppendHeader(fromHeader)

	toHeader := &sip.ToHeader{
		DisplayName: s.remoteName,
		Address:     s.remote,
		Params:      sip.NewParams(),
	}
	if s.remoteTag != "" {
		toHeader.Params.Add("tag", s.remoteTag)
	}
	newRequest.AppendHeader(toHeader)

	newRequest.AppendHeader(s.ua.contactHeader())
	callID := s.callID
	newRequest.AppendHeader(&callID)
	newRequest.AppendHeader(&sip.CSeqHeader{SeqNo: s.localCSeq, MethodName: method})
	maxForwards := sip.MaxForwardsHeader(70)
	newRequest.AppendHeader(&maxForwards)

	for _, val := range s.routeSet {
		newRequest.AppendHeader(&sip.RouteHeader{Address: val})
	}

	s.ua.route(newRequest)
	return newRequest
}

// respond отвечает на начальный входящий INVITE
func (s *Session) respond(code int, reason string, body []byte) error {
	res := withTag(sip.NewResponseFromRequest(s.invite, code, reason, nil), s.localTag)
	if code < 300 {
		res.AppendHeader(s.ua.contactHeader())
	}
	if body != nil {
		setContent(res, contentTypeSDP, body)
	}
	return s.inviteTx.Respond(res)
}

// Answer отвечает 200 OK на входящий вызов.
// Диалог подтверждается после получения ACK.
func (s *Session) Answer(ctx context.Context) error {
	if s.dir != line.Incoming {
		return errors.Wrap(ErrWrongDirection, "answer")
	}

	s.mu.Lock()
	cur := s.state.Current()
	if cur == stateTerminating || cur == stateTerminated {
		s.mu.Unlock()
		return errors.Wrap(ErrTerminated, "answer")
	}
	if s.answered {
		s.mu.Unlock()
		return ErrAlreadyAnswered
	}
	offerDir, err := mediaDirection(s.invite.Body())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	body, err := s.localSDPLocked(answerDirection(offerDir, false))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.answered = true
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.unanswer()
		return err
	}
	if err := s.respond(sip.StatusOK, "OK", body); err != nil {
		s.unanswer()
		return errors.Wrap(err, "ошибка отправки 200 OK")
	}
	s.settle()

	s.log.Debug("session.Answer")
	return nil
}

func (s *Session) unanswer() {
	s.mu.Lock()
	s.answered = false
	s.mu.Unlock()
}

// Terminate завершает вызов в зависимости от состояния:
// входящий без ответа отклоняется финальным ответом code/reason,
// исходящий ранний отменяется CANCEL, подтвержденный завершается BYE.
func (s *Session) Terminate(ctx context.Context, code int, reason string) error {
	s.mu.Lock()
	cur := s.state.Current()
	if cur == stateTerminating || cur == stateTerminated {
		s.mu.Unlock()
		return nil
	}

	switch {
	case s.dir == line.Incoming && !s.answered:
		if code < 300 || code > 699 {
			code, reason = sip.StatusTemporarilyUnavailable, "Temporarily Unavailable"
		}
		s.answered = true
		s.fire("terminate")
		s.mu.Unlock()

		err := s.respond(code, reason, nil)
		s.finish(line.SessionEvent{Kind: line.EventFailed, Code: code, Reason: reason})
		if err != nil {
			return errors.Wrapf(err, "ошибка отправки ответа %d", code)
		}
		return nil

	case s.dir == line.Outgoing && cur != stateConfirmed:
		if s.canceling {
			s.mu.Unlock()
			return nil
		}
		s.canceling = true
		invite := s.invite
		s.mu.Unlock()
		return s.cancelInvite(ctx, invite)

	default:
		s.fire("terminate")
		s.mu.Unlock()

		err := s.bye(ctx)
		s.finish(line.SessionEvent{Kind: line.EventEnded, Reason: "local"})
		return err
	}
}

// cancelInvite отменяет исходящий INVITE.
// Исход приходит финальным ответом на INVITE (обычно 487).
func (s *Session) cancelInvite(ctx context.Context, invite *sip.Request) error {
	if invite == nil || invite.Via() == nil {
		// INVITE еще не отправлен
		s.cancel()
		return nil
	}

	tx, err := s.ua.req.Request(ctx, newCancelRequest(invite), false)
	if err != nil {
		s.cancel()
		return errors.Wrap(err, "ошибка отправки CANCEL")
	}
	defer tx.Terminate()
	s.ua.metrics.requests.WithLabelValues(sip.CANCEL.String(), "out").Inc()

	select {
	case res := <-tx.Responses():
		if res != nil && !isSuccess(res) {
			s.log.Debug("CANCEL rejected", slog.Int("status", res.StatusCode))
		}
	case <-tx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Session) bye(ctx context.Context) error {
	_, res, err := s.ua.send(ctx, func() *sip.Request { return s.makeRequest(sip.BYE) }, nil)
	if err != nil {
		return errors.Wrap(err, "ошибка отправки BYE")
	}
	if !isSuccess(res) {
		return errors.Wrap(statusErr(res), "BYE отклонен")
	}
	return nil
}

// finish переводит диалог в terminated, удаляет его из карты
// и публикует последнее событие
func (s *Session) finish(ev line.SessionEvent) {
	s.mu.Lock()
	if s.state.Current() == stateTerminated {
		s.mu.Unlock()
		return
	}
	s.fire("terminated")
	s.mu.Unlock()

	s.ua.dialogs.Delete(s)
	s.cancel()
	s.settle()

	s.log.Debug("dialog terminated",
		slog.String("event", ev.Kind.String()),
		slog.Int("code", ev.Code))
	s.push(ev)
}

// runInvite отправляет начальный INVITE и обрабатывает ответы
func (s *Session) runInvite(offer []byte) {
	build := func() *sip.Request {
		s.mu.Lock()
		defer s.mu.Unlock()
		req := s.makeRequestLocked(sip.INVITE)
		if exp := s.ua.cfg.SessionExpires; exp > 0 {
			req.AppendHeader(sip.NewHeader("Supported", "timer"))
			req.AppendHeader(sip.NewHeader("Session-Expires", strconv.Itoa(int(exp/time.Second))))
		}
		setContent(req, contentTypeSDP, offer)
		s.invite = req
		return req
	}

	req, res, err := s.ua.send(s.ctx, build, s.onProvisional)
	switch {
	case err != nil && s.ctx.Err() != nil:
		s.finish(line.SessionEvent{Kind: line.EventFailed, Code: sip.StatusRequestTerminated, Reason: "Request Terminated"})
	case err != nil:
		s.log.Warn("INVITE failed", slog.Any("error", err))
		s.finish(line.SessionEvent{Kind: line.EventFailed, Code: sip.StatusRequestTimeout, Reason: err.Error()})
	case !isSuccess(res):
		s.finish(line.SessionEvent{Kind: line.EventFailed, Code: res.StatusCode, Reason: res.Reason})
	default:
		s.confirm(req, res)
	}
}

// ackRequest ACK на 2xx ответ INVITE (RFC 3261 13.2.2.4).
// Номер CSeq берется из INVITE, To из ответа, адрес и маршруты из диалога.
func (s *Session) ackRequest(invite *sip.Request, res *sip.Response) *sip.Request {
	s.mu.Lock()
	target := s.remoteTarget
	routes := s.routeSet
	s.mu.Unlock()

	ack := sip.NewRequest(sip.ACK, target)
	ack.SipVersion = invite.SipVersion
	for _, val := range routes {
		ack.AppendHeader(&sip.RouteHeader{Address: val})
	}
	maxForwards := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxForwards)
	if h := invite.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := res.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CSeq(); h != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.ACK})
	}
	ack.AppendHeader(s.ua.contactHeader())
	s.ua.route(ack)
	return ack
}

func (s *Session) onProvisional(res *sip.Response) {
	if res.StatusCode == sip.StatusTrying {
		return
	}
	s.mu.Lock()
	if tag := GetToTag(res); tag != "" {
		s.remoteTag = tag
	}
	s.fire("early")
	s.mu.Unlock()

	s.push(line.SessionEvent{Kind: line.EventProgress, Code: res.StatusCode, Reason: res.Reason})
}

// confirm обрабатывает 2xx на начальный INVITE
func (s *Session) confirm(req *sip.Request, res *sip.Response) {
	s.mu.Lock()
	s.remoteTag = GetToTag(res)
	if c := res.Contact(); c != nil {
		s.remoteTarget = c.Address
	}
	s.routeSet = recordRoutes(res, true)
	if to := res.To(); to != nil {
		s.remote = to.Address
	}
	canceling := s.canceling
	s.fire("confirm")
	s.mu.Unlock()

	if err := s.ua.req.Write(s.ackRequest(req, res)); err != nil {
		s.log.Error("send ACK", slog.Any("error", err))
	}

	if canceling {
		// 200 OK пришел после CANCEL
		ctx, cancel := context.WithTimeout(context.Background(), s.ua.cfg.RequestTimeout)
		defer cancel()
		if err := s.bye(ctx); err != nil {
			s.log.Warn("BYE after CANCEL", slog.Any("error", err))
		}
		s.finish(line.SessionEvent{Kind: line.EventFailed, Code: sip.StatusRequestTerminated, Reason: "Request Terminated"})
		return
	}

	s.log.Debug("dialog confirmed")
	s.pushKind(line.EventConfirmed)
}

// onAck подтверждает входящий диалог после ответа 200 OK
func (s *Session) onAck() {
	s.mu.Lock()
	if s.dir != line.Incoming || !s.answered || !s.fire("confirm") {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.log.Debug("dialog confirmed")
	s.pushKind(line.EventConfirmed)
}

// onCancel обрабатывает CANCEL входящего INVITE
func (s *Session) onCancel() {
	s.mu.Lock()
	if s.dir != line.Incoming || s.answered {
		s.mu.Unlock()
		return
	}
	s.answered = true
	s.fire("terminate")
	s.mu.Unlock()

	if err := s.respond(sip.StatusRequestTerminated, "Request Terminated", nil); err != nil {
		s.log.Error("respond 487", slog.Any("error", err))
	}
	s.finish(line.SessionEvent{Kind: line.EventFailed, Code: sip.StatusRequestTerminated, Reason: "Canceled"})
}

// onBye завершение вызова удаленной стороной
func (s *Session) onBye() {
	s.finish(line.SessionEvent{Kind: line.EventEnded, Reason: "remote"})
}

func (s *Session) Hold(ctx context.Context) error {
	return s.setHold(ctx, true)
}

func (s *Session) Unhold(ctx context.Context) error {
	return s.setHold(ctx, false)
}

// setHold отправляет re-INVITE с sendonly или sendrecv и ждет финальный ответ
func (s *Session) setHold(ctx context.Context, hold bool) error {
	s.reinviteMu.Lock()
	defer s.reinviteMu.Unlock()

	kind, direction := line.EventUnhold, sdpSendRecv
	if hold {
		kind, direction = line.EventHold, sdpSendOnly
	}

	s.mu.Lock()
	if s.state.Current() != stateConfirmed {
		s.mu.Unlock()
		return ErrNotConfirmed
	}
	if s.held == hold {
		s.mu.Unlock()
		s.pushKind(kind)
		return nil
	}
	offer, err := s.localSDPLocked(direction)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	req, res, err := s.ua.send(ctx, func() *sip.Request {
		req := s.makeRequest(sip.INVITE)
		setContent(req, contentTypeSDP, offer)
		return req
	}, nil)
	if err != nil {
		return errors.Wrap(err, "ошибка отправки re-INVITE")
	}
	if !isSuccess(res) {
		return errors.Wrap(statusErr(res), "re-INVITE отклонен")
	}
	if err := s.ua.req.Write(s.ackRequest(req, res)); err != nil {
		s.log.Error("send ACK", slog.Any("error", err))
	}

	s.mu.Lock()
	s.held = hold
	s.mu.Unlock()

	s.log.Debug("session hold changed", slog.Bool("held", hold))
	s.pushKind(kind)
	return nil
}

// onReInvite отвечает на re-INVITE удаленной стороны.
// Удержание удаленной стороной не меняет локальный флаг удержания.
func (s *Session) onReInvite(req *sip.Request, tx serverTx) {
	s.mu.Lock()
	if s.state.Current() != stateConfirmed {
		s.mu.Unlock()
		respond(tx, req, 491, "Request Pending")
		return
	}
	remoteDir, err := mediaDirection(req.Body())
	if err != nil {
		s.mu.Unlock()
		respond(tx, req, sip.StatusNotAcceptableHere, "Not Acceptable Here")
		return
	}
	if c := req.Contact(); c != nil {
		s.remoteTarget = c.Address
	}
	body, err := s.localSDPLocked(answerDirection(remoteDir, s.held))
	s.mu.Unlock()
	if err != nil {
		respond(tx, req, sip.StatusInternalServerError, "Internal Server Error")
		return
	}

	res := withTag(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil), s.localTag)
	res.AppendHeader(s.ua.contactHeader())
	setContent(res, contentTypeSDP, body)
	if err := tx.Respond(res); err != nil {
		s.log.Error("respond to re-INVITE", slog.Any("error", err))
	}
}

func (s *Session) Mute() error {
	return s.setMuted(true)
}

func (s *Session) Unmute() error {
	return s.setMuted(false)
}

// setMuted меняет только локальный флаг, медиа не затрагивается
func (s *Session) setMuted(muted bool) error {
	s.mu.Lock()
	cur := s.state.Current()
	if cur == stateTerminating || cur == stateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	s.muted = muted
	s.mu.Unlock()

	if muted {
		s.pushKind(line.EventMuted)
	} else {
		s.pushKind(line.EventUnmuted)
	}
	return nil
}

// Refer отправляет REFER для перевода вызова на target.
// Ответ 2xx означает только принятие запроса, исход приходит в NOTIFY.
func (s *Session) Refer(ctx context.Context, target string) error {
	uri, err := s.ua.targetURI(target)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Current() != stateConfirmed {
		s.mu.Unlock()
		return ErrNotConfirmed
	}
	sub := newReferSub()
	s.refer = sub
	referBy := s.local
	s.mu.Unlock()

	_, res, err := s.ua.send(ctx, func() *sip.Request {
		req := s.makeRequest(sip.REFER)
		req.AppendHeader(createReferToHeader(uri))
		req.AppendHeader(createReferByHeader(referBy))
		return req
	}, nil)
	if err != nil {
		s.dropRefer(sub)
		return errors.Wrap(err, "ошибка отправки REFER")
	}
	if !isSuccess(res) {
		s.dropRefer(sub)
		return errors.Wrap(statusErr(res), "REFER отклонен")
	}

	s.log.Debug("session.Refer", slog.String("target", uri.String()))
	return nil
}

func (s *Session) dropRefer(sub *referSub) {
	s.mu.Lock()
	if s.refer == sub {
		s.refer = nil
	}
	s.mu.Unlock()
}

// onNotify обрабатывает NOTIFY подписки REFER с телом message/sipfrag
func (s *Session) onNotify(req *sip.Request) {
	s.mu.Lock()
	sub := s.refer
	s.mu.Unlock()
	if sub == nil {
		return
	}

	code, reason := parseSipfrag(req.Body())
	if !sub.onNotify(code) {
		return
	}
	s.dropRefer(sub)

	s.log.Debug("refer outcome", slog.Int("code", code), slog.String("state", sub.state()))
	if code < 300 {
		s.push(line.SessionEvent{Kind: line.EventTransferAccepted, Code: code, Reason: reason})
		return
	}
	s.push(line.SessionEvent{Kind: line.EventTransferFailed, Code: code, Reason: reason})
}

func newCancelRequest(requestForCancel *sip.Request) *sip.Request {
	cancelReq := sip.NewRequest(sip.CANCEL, requestForCancel.Recipient)
	cancelReq.SipVersion = requestForCancel.SipVersion

	if via := requestForCancel.Via(); via != nil {
		cancelReq.AppendHeader(via.Clone())
	}
	sip.CopyHeaders("Route", requestForCancel, cancelReq)
	maxForwards := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxForwards)

	if h := requestForCancel.From(); h != nil {
		cancelReq.AppendHeader(sip.HeaderClone(h))
	}
	if h := requestForCancel.To(); h != nil {
		cancelReq.AppendHeader(sip.HeaderClone(h))
	}
	if h := requestForCancel.CallID(); h != nil {
		cancelReq.AppendHeader(sip.HeaderClone(h))
	}
	if h := requestForCancel.CSeq(); h != nil {
		cseq := sip.HeaderClone(h).(*sip.CSeqHeader)
		cseq.MethodName = sip.CANCEL
		cancelReq.AppendHeader(cseq)
	}

	cancelReq.SetTransport(requestForCancel.Transport())
	cancelReq.SetDestination(requestForCancel.Destination())
	return cancelReq
}
