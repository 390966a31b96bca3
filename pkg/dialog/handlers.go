package dialog

import (
	"log/slog"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/multiline/pkg/line"
)

// serverHandler приводит обработчик к сигнатуре sipgo
func serverHandler(f func(*sip.Request, serverTx)) func(*sip.Request, sip.ServerTransaction) {
	return func(req *sip.Request, tx sip.ServerTransaction) {
		f(req, tx)
	}
}

func (u *UACUAS) onRequests() {
	u.uas.OnInvite(serverHandler(u.handleInvite))
	u.uas.OnCancel(serverHandler(u.handleCancel))
	u.uas.OnBye(serverHandler(u.handleBye))
	u.uas.OnAck(serverHandler(u.handleACK))
	u.uas.OnNotify(serverHandler(u.handleNotify))
	u.uas.OnInfo(serverHandler(u.handleOK))
	u.uas.OnUpdate(serverHandler(u.handleOK))
	u.uas.OnOptions(serverHandler(u.handleOK))
}

func respond(tx serverTx, req *sip.Request, code int, reason string) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, code, reason, nil)); err != nil {
		slog.Error("respond",
			slog.Int("status", code),
			slog.String("method", req.Method.String()),
			slog.Any("error", err))
	}
}

// handleInvite обрабатывает начальный INVITE и re-INVITE.
// Для начального INVITE обработчик ждет финального ответа на вызов.
func (u *UACUAS) handleInvite(req *sip.Request, tx serverTx) {
	u.log.Debug("handleInvite",
		slog.String("request", req.String()),
		slog.String("body", string(req.Body())))
	u.metrics.requests.WithLabelValues(sip.INVITE.String(), "in").Inc()

	callID := req.CallID()
	if callID == nil {
		respond(tx, req, sip.StatusBadRequest, CallIDDoesNotExist)
		return
	}

	if tagTo := GetToTag(req); tagTo != "" {
		s, ok := u.dialogs.Get(*callID, tagTo)
		if !ok {
			respond(tx, req, sip.StatusCallTransactionDoesNotExists, CallDoesNotExist)
			return
		}
		s.onReInvite(req, tx)
		return
	}

	branch := GetBranchID(req)
	if _, ok := u.dialogs.GetWithTX(branch); ok {
		respond(tx, req, sip.StatusLoopDetected, "Loop Detected")
		return
	}

	u.mu.Lock()
	incoming := u.incoming
	u.mu.Unlock()
	if incoming == nil {
		respond(tx, req, sip.StatusTemporarilyUnavailable, "Temporarily Unavailable")
		return
	}

	s := u.newIncoming(req, tx)
	u.dialogs.Put(s, branch)

	respond(tx, req, sip.StatusTrying, "Trying")
	if err := s.respond(sip.StatusRinging, "Ringing", nil); err != nil {
		s.log.Error("respond 180", slog.Any("error", err))
	}

	incoming(s)

	select {
	case <-s.settled:
	case <-s.ctx.Done():
	case <-tx.Done():
		s.finish(line.SessionEvent{Kind: line.EventFailed, Code: sip.StatusRequestTerminated, Reason: "transaction terminated"})
	}
}

func (u *UACUAS) newIncoming(req *sip.Request, tx serverTx) *Session {
	s := u.newSession(line.Incoming, req.CallID().Value(), u.newTag())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteTag = GetFromTag(req)
	if from := req.From(); from != nil {
		s.remote = from.Address
		s.remoteName = from.DisplayName
	}
	if to := req.To(); to != nil {
		s.local = to.Address
	}
	s.remoteTarget = s.remote
	if c := req.Contact(); c != nil {
		s.remoteTarget = c.Address
	}
	s.routeSet = recordRoutes(req, false)
	s.invite = req
	s.inviteTx = tx
	s.fire("early")
	return s
}

func (u *UACUAS) handleCancel(req *sip.Request, tx serverTx) {
	u.log.Debug("handleCancel", slog.String("request", req.String()))
	u.metrics.requests.WithLabelValues(sip.CANCEL.String(), "in").Inc()

	if req.CallID() == nil {
		respond(tx, req, sip.StatusBadRequest, CallIDDoesNotExist)
		return
	}
	s, ok := u.dialogs.GetWithTX(GetBranchID(req))
	if !ok {
		respond(tx, req, sip.StatusCallTransactionDoesNotExists, CallDoesNotExist)
		return
	}
	respond(tx, req, sip.StatusOK, "OK")
	s.onCancel()
}

func (u *UACUAS) handleBye(req *sip.Request, tx serverTx) {
	u.log.Debug("handleBye", slog.String("request", req.String()))
	u.metrics.requests.WithLabelValues(sip.BYE.String(), "in").Inc()

	s, ok := u.inDialog(req, tx)
	if !ok {
		return
	}
	respond(tx, req, sip.StatusOK, "OK")
	s.onBye()
}

// handleACK обработка ACK на ответ 200 OK
func (u *UACUAS) handleACK(req *sip.Request, tx serverTx) {
	u.log.Debug("handleAck", slog.String("request", req.String()))

	callID := req.CallID()
	if callID == nil {
		return
	}
	if s, ok := u.dialogs.Get(*callID, GetToTag(req)); ok {
		s.onAck()
	}
}

func (u *UACUAS) handleNotify(req *sip.Request, tx serverTx) {
	u.log.Debug("handleNotify",
		slog.String("request", req.String()),
		slog.String("body", string(req.Body())))
	u.metrics.requests.WithLabelValues(sip.NOTIFY.String(), "in").Inc()

	s, ok := u.inDialog(req, tx)
	if !ok {
		return
	}
	respond(tx, req, sip.StatusOK, "OK")

	if ev := req.GetHeader("Event"); ev == nil || !strings.HasPrefix(strings.TrimSpace(ev.Value()), "refer") {
		return
	}
	s.onNotify(req)
}

// handleOK отвечает 200 OK на OPTIONS, INFO и UPDATE
func (u *UACUAS) handleOK(req *sip.Request, tx serverTx) {
	u.log.Debug("handle"+req.Method.String(), slog.String("request", req.String()))
	u.metrics.requests.WithLabelValues(req.Method.String(), "in").Inc()
	respond(tx, req, sip.StatusOK, "OK")
}

// inDialog находит диалог внутридиалогового запроса или отвечает 481
func (u *UACUAS) inDialog(req *sip.Request, tx serverTx) (*Session, bool) {
	callID := req.CallID()
	if callID == nil {
		respond(tx, req, sip.StatusBadRequest, CallIDDoesNotExist)
		return nil, false
	}
	s, ok := u.dialogs.Get(*callID, GetToTag(req))
	if !ok {
		respond(tx, req, sip.StatusCallTransactionDoesNotExists, CallDoesNotExist)
		return nil, false
	}
	return s, true
}
