package dialog

import (
	"context"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/multiline/pkg/line"
)

// TestIncomingAnswerAckBye проверяет полный входящий вызов:
// 100 и 180 до ответа, 200 OK с SDP, подтверждение по ACK и BYE удаленной стороны
func TestIncomingAnswerAckBye(t *testing.T) {
	u, _ := newTestUA(t)
	s, tx, done := acceptIncoming(t, u, incomingInvite("call-in-1", sdpSendRecv))

	assert.Equal(t, line.Incoming, s.Direction())
	assert.Equal(t, "sip:bob@example.com", s.RemoteURI())
	assert.Equal(t, stateEarly, s.State())
	assert.Equal(t, 1, u.dialogs.Len())

	trying := tx.next(t)
	assert.Equal(t, sip.StatusTrying, trying.StatusCode)
	ringing := tx.next(t)
	assert.Equal(t, sip.StatusRinging, ringing.StatusCode)
	assert.Equal(t, s.localTag, GetToTag(ringing))

	rec := newEventRecorder()
	s.OnEvent(rec.handle)
	require.NoError(t, s.Answer(context.Background()))
	waitDone(t, done)

	ok := tx.next(t)
	require.Equal(t, sip.StatusOK, ok.StatusCode)
	assert.Equal(t, s.localTag, GetToTag(ok))
	require.NotNil(t, ok.Contact())
	dir, err := mediaDirection(ok.Body())
	require.NoError(t, err)
	assert.Equal(t, sdpSendRecv, dir)

	assert.ErrorIs(t, s.Answer(context.Background()), ErrAlreadyAnswered)

	u.handleACK(remoteRequest(s, sip.ACK, 1), newFakeServerTx())
	rec.requireKind(t, line.EventConfirmed)
	assert.Equal(t, stateConfirmed, s.State())

	byeTx := newFakeServerTx()
	u.handleBye(remoteRequest(s, sip.BYE, 2), byeTx)
	assert.Equal(t, sip.StatusOK, byeTx.next(t).StatusCode)

	ev := rec.requireKind(t, line.EventEnded)
	assert.Equal(t, "remote", ev.Reason)
	assert.Equal(t, stateTerminated, s.State())
	assert.Zero(t, u.dialogs.Len())
}

// TestIncomingAnswerRecvOnlyOffer проверяет направление ответа на sendonly
func TestIncomingAnswerRecvOnlyOffer(t *testing.T) {
	u, _ := newTestUA(t)
	s, tx, done := acceptIncoming(t, u, incomingInvite("call-in-2", sdpSendOnly))
	tx.next(t)
	tx.next(t)

	require.NoError(t, s.Answer(context.Background()))
	waitDone(t, done)

	dir, err := mediaDirection(tx.next(t).Body())
	require.NoError(t, err)
	assert.Equal(t, sdpRecvOnly, dir)
}

// TestIncomingCancel проверяет отмену входящего вызова до ответа
func TestIncomingCancel(t *testing.T) {
	u, _ := newTestUA(t)
	invite := incomingInvite("call-in-3", sdpSendRecv)
	s, tx, done := acceptIncoming(t, u, invite)
	rec := newEventRecorder()
	s.OnEvent(rec.handle)
	tx.next(t)
	tx.next(t)

	cancel := newCancelRequest(invite)
	cancelTx := newFakeServerTx()
	u.handleCancel(cancel, cancelTx)
	assert.Equal(t, sip.StatusOK, cancelTx.next(t).StatusCode)

	res := tx.next(t)
	assert.Equal(t, sip.StatusRequestTerminated, res.StatusCode)
	waitDone(t, done)

	ev := rec.requireKind(t, line.EventFailed)
	assert.Equal(t, sip.StatusRequestTerminated, ev.Code)
	assert.Zero(t, u.dialogs.Len())
	assert.ErrorIs(t, s.Answer(context.Background()), ErrTerminated)
}

// TestIncomingReject проверяет отклонение входящего вызова кодом из Terminate
func TestIncomingReject(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		reason     string
		wantCode   int
		wantReason string
	}{
		{name: "занято", code: 486, reason: "Busy Here", wantCode: 486, wantReason: "Busy Here"},
		{name: "код по умолчанию", code: 0, reason: "", wantCode: 480, wantReason: "Temporarily Unavailable"},
		{name: "успешный код заменяется", code: 200, reason: "OK", wantCode: 480, wantReason: "Temporarily Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _ := newTestUA(t)
			s, tx, done := acceptIncoming(t, u, incomingInvite("call-reject", sdpSendRecv))
			rec := newEventRecorder()
			s.OnEvent(rec.handle)
			tx.next(t)
			tx.next(t)

			require.NoError(t, s.Terminate(context.Background(), tt.code, tt.reason))
			waitDone(t, done)

			res := tx.next(t)
			assert.Equal(t, tt.wantCode, res.StatusCode)
			assert.Equal(t, tt.wantReason, res.Reason)

			ev := rec.requireKind(t, line.EventFailed)
			assert.Equal(t, tt.wantCode, ev.Code)
			assert.Zero(t, u.dialogs.Len())

			// повторное завершение ничего не делает
			require.NoError(t, s.Terminate(context.Background(), 486, ""))
		})
	}
}

// TestIncomingWithoutHandler проверяет отказ 480 без обработчика входящих
func TestIncomingWithoutHandler(t *testing.T) {
	u, _ := newTestUA(t)
	u.OnIncoming(nil)

	tx := newFakeServerTx()
	u.handleInvite(incomingInvite("call-in-4", sdpSendRecv), tx)

	assert.Equal(t, sip.StatusTemporarilyUnavailable, tx.next(t).StatusCode)
	assert.Zero(t, u.dialogs.Len())
}

// TestIncomingLocalBye проверяет завершение подтвержденного входящего вызова
func TestIncomingLocalBye(t *testing.T) {
	u, r := newTestUA(t)
	s, tx, done := acceptIncoming(t, u, incomingInvite("call-in-5", sdpSendRecv))
	rec := newEventRecorder()
	s.OnEvent(rec.handle)
	require.NoError(t, s.Answer(context.Background()))
	waitDone(t, done)
	u.handleACK(remoteRequest(s, sip.ACK, 1), newFakeServerTx())
	rec.requireKind(t, line.EventConfirmed)
	for len(tx.responses) > 0 {
		<-tx.responses
	}

	r.script(sip.BYE, sip.StatusOK)
	require.NoError(t, s.Terminate(context.Background(), 0, ""))

	bye := r.next(t).req
	assert.Equal(t, sip.BYE, bye.Method)
	assert.Equal(t, s.localTag, GetFromTag(bye))
	assert.Equal(t, remoteTag, GetToTag(bye))
	assert.Equal(t, "bob", bye.Recipient.User)
	assert.Equal(t, 5070, bye.Recipient.Port)

	ev := rec.requireKind(t, line.EventEnded)
	assert.Equal(t, "local", ev.Reason)
}

// TestInDialogUnknown проверяет ответ 481 на запросы вне диалога
func TestInDialogUnknown(t *testing.T) {
	u, _ := newTestUA(t)
	s, tx, done := acceptIncoming(t, u, incomingInvite("call-in-6", sdpSendRecv))
	require.NoError(t, s.Terminate(context.Background(), 486, "Busy Here"))
	waitDone(t, done)
	for len(tx.responses) > 0 {
		<-tx.responses
	}

	byeTx := newFakeServerTx()
	u.handleBye(remoteRequest(s, sip.BYE, 2), byeTx)
	assert.Equal(t, sip.StatusCallTransactionDoesNotExists, byeTx.next(t).StatusCode)

	reinviteTx := newFakeServerTx()
	u.handleInvite(remoteRequest(s, sip.INVITE, 3), reinviteTx)
	assert.Equal(t, sip.StatusCallTransactionDoesNotExists, reinviteTx.next(t).StatusCode)
}

// TestRemoteReInvite проверяет ответ на удержание удаленной стороной:
// ответ recvonly, локальный флаг удержания не меняется
func TestRemoteReInvite(t *testing.T) {
	u, r := newTestUA(t)
	s, _ := establishOutgoing(t, u, r)

	req := remoteRequest(s, sip.INVITE, 5)
	offer, err := buildSDP(sdpParams{Host: "10.0.0.2", Port: 6000, SessionID: 7, Version: 2, Direction: sdpSendOnly})
	require.NoError(t, err)
	setContent(req, contentTypeSDP, offer)

	tx := newFakeServerTx()
	u.handleInvite(req, tx)

	res := tx.next(t)
	require.Equal(t, sip.StatusOK, res.StatusCode)
	dir, err := mediaDirection(res.Body())
	require.NoError(t, err)
	assert.Equal(t, sdpRecvOnly, dir)
	assert.False(t, s.IsHeld())

	bad := remoteRequest(s, sip.INVITE, 6)
	setContent(bad, contentTypeSDP, []byte("not sdp"))
	badTx := newFakeServerTx()
	u.handleInvite(bad, badTx)
	assert.Equal(t, sip.StatusNotAcceptableHere, badTx.next(t).StatusCode)
}

// TestOptionsAnswered проверяет ответ 200 на OPTIONS и INFO
func TestOptionsAnswered(t *testing.T) {
	u, _ := newTestUA(t)
	for _, method := range []sip.RequestMethod{sip.OPTIONS, sip.INFO} {
		req := standaloneRequest(method, u.contact)

		tx := newFakeServerTx()
		u.handleOK(req, tx)
		assert.Equal(t, sip.StatusOK, tx.next(t).StatusCode, method.String())
	}
}

// TestAnswerOutgoingFails проверяет, что на исходящий вызов ответить нельзя
func TestAnswerOutgoingFails(t *testing.T) {
	u, r := newTestUA(t)
	s, _ := establishOutgoing(t, u, r)

	err := s.Answer(context.Background())
	assert.True(t, errors.Is(err, ErrWrongDirection))
}
