package dialog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connRecorder struct {
	mu     sync.Mutex
	events []ConnectionEvent
}

func (r *connRecorder) handle(ev ConnectionEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *connRecorder) Events() []ConnectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionEvent(nil), r.events...)
}

// TestRegisterWithDigest проверяет регистрацию с digest-авторизацией
// и снятие регистрации
func TestRegisterWithDigest(t *testing.T) {
	u, r := newTestUA(t)
	conn := &connRecorder{}
	u.OnConnectionEvent(conn.handle)

	r.script(sip.REGISTER, sip.StatusUnauthorized, sip.StatusOK)
	require.NoError(t, u.Register(context.Background()))
	assert.True(t, u.IsRegistered())

	first := r.next(t).req
	assert.Equal(t, sip.REGISTER, first.Method)
	assert.Equal(t, "sip:example.com", first.Recipient.String())
	assert.Equal(t, "100", first.GetHeader("Expires").Value())
	assert.Nil(t, first.GetHeader("Authorization"))

	second := r.next(t).req
	auth := second.GetHeader("Authorization")
	require.NotNil(t, auth)
	assert.True(t, strings.HasPrefix(auth.Value(), "Digest "))
	assert.Contains(t, auth.Value(), `uri="sip:example.com"`)
	assert.Equal(t, first.CallID().Value(), second.CallID().Value())
	assert.Equal(t, first.CSeq().SeqNo+1, second.CSeq().SeqNo)

	u.mu.Lock()
	assert.NotNil(t, u.regTimer)
	u.mu.Unlock()

	r.script(sip.REGISTER, sip.StatusOK)
	require.NoError(t, u.Unregister(context.Background()))
	assert.False(t, u.IsRegistered())
	unreg := r.next(t).req
	assert.Equal(t, "0", unreg.GetHeader("Expires").Value())
	assert.Equal(t, first.CallID().Value(), unreg.CallID().Value())

	assert.Equal(t, []ConnectionEvent{ConnectionRegistered, ConnectionUnregistered}, conn.Events())
}

func TestRegisterWithoutPassword(t *testing.T) {
	cfg := testConfig()
	cfg.Password = ""
	u, r := newTestUAWithConfig(t, cfg)
	conn := &connRecorder{}
	u.OnConnectionEvent(conn.handle)

	r.script(sip.REGISTER, sip.StatusUnauthorized)
	err := u.Register(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.False(t, u.IsRegistered())
	assert.Equal(t, []ConnectionEvent{ConnectionRegistrationFailed}, conn.Events())
}

func TestRegisterRejected(t *testing.T) {
	u, r := newTestUA(t)
	r.script(sip.REGISTER, 403)

	err := u.Register(context.Background())
	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, 403, status.Code)
	assert.False(t, u.IsRegistered())
}

// TestRegisterRefresh проверяет обновление регистрации по таймеру
func TestRegisterRefresh(t *testing.T) {
	cfg := testConfig()
	cfg.RegisterExpires = 20 * time.Millisecond
	u, r := newTestUAWithConfig(t, cfg)
	conn := &connRecorder{}
	u.OnConnectionEvent(conn.handle)

	r.script(sip.REGISTER, sip.StatusOK, sip.StatusOK)
	require.NoError(t, u.Register(context.Background()))
	first := r.next(t).req
	refreshed := r.next(t).req
	assert.Greater(t, refreshed.CSeq().SeqNo, first.CSeq().SeqNo)

	require.Eventually(t, func() bool {
		return len(conn.Events()) >= 3
	}, waitTimeout, time.Millisecond)
	assert.Equal(t, []ConnectionEvent{ConnectionRegistered, ConnectionRegistrationExpiring, ConnectionRegistered}, conn.Events()[:3])

	u.stopRefresh()
}

func TestGrantedExpires(t *testing.T) {
	req := standaloneRequest(sip.REGISTER, sip.Uri{Host: "example.com"})
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	assert.Equal(t, 100*time.Second, grantedExpires(res, 100*time.Second))

	res.AppendHeader(sip.NewHeader("Expires", "60"))
	assert.Equal(t, 60*time.Second, grantedExpires(res, 100*time.Second))

	res.AppendHeader(&sip.ContactHeader{
		Address: sip.Uri{User: "alice", Host: "127.0.0.1"},
		Params:  sip.NewParams().Add("expires", "30"),
	})
	assert.Equal(t, 30*time.Second, grantedExpires(res, 100*time.Second))
}

func TestConnectionEventString(t *testing.T) {
	assert.Equal(t, "registrationExpiring", ConnectionRegistrationExpiring.String())
	assert.Equal(t, "unknown", ConnectionEvent(99).String())
}
