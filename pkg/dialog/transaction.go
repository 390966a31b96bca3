package dialog

import (
	"context"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// clientTx клиентская транзакция в объеме, нужном диалогу
type clientTx interface {
	Responses() <-chan *sip.Response
	Done() <-chan struct{}
	Err() error
	Terminate()
}

// serverTx серверная транзакция в объеме, нужном диалогу
type serverTx interface {
	Respond(res *sip.Response) error
	Done() <-chan struct{}
}

// requester отправляет запросы от имени UAC.
// addVia=false отправляет запрос как есть: CANCEL использует Via из INVITE.
// Write отправляет запрос без транзакции (ACK на 2xx) с новой веткой Via.
type requester interface {
	Request(ctx context.Context, req *sip.Request, addVia bool) (clientTx, error)
	Write(req *sip.Request) error
}

// sipgoRequester отправка запросов через клиента sipgo
type sipgoRequester struct {
	uac *sipgo.Client
}

// asIs не трогает заголовки запроса
func asIs(*sipgo.Client, *sip.Request) error { return nil }

func (r sipgoRequester) Request(ctx context.Context, req *sip.Request, addVia bool) (clientTx, error) {
	opt := sipgo.ClientRequestAddVia
	if !addVia {
		opt = asIs
	}
	tx, err := r.uac.TransactionRequest(ctx, req, opt)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (r sipgoRequester) Write(req *sip.Request) error {
	return r.uac.WriteRequest(req, sipgo.ClientRequestAddVia)
}

// roundTrip отправляет запрос и ждет финальный ответ.
// Предварительные ответы передаются в onProvisional.
func (u *UACUAS) roundTrip(ctx context.Context, req *sip.Request, onProvisional func(*sip.Response)) (*sip.Response, error) {
	tx, err := u.req.Request(ctx, req, true)
	if err != nil {
		return nil, errors.Wrapf(err, "ошибка отправки %s", req.Method)
	}
	defer tx.Terminate()
	u.metrics.requests.WithLabelValues(req.Method.String(), "out").Inc()

	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, errors.Wrapf(ErrTransactionTerminated, "%s", req.Method)
			}
			if res.StatusCode < 200 {
				if onProvisional != nil {
					onProvisional(res)
				}
				continue
			}
			u.metrics.responses.WithLabelValues(req.Method.String(), statusClass(res.StatusCode)).Inc()
			return res, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, errors.Wrapf(err, "транзакция %s", req.Method)
			}
			return nil, errors.Wrapf(ErrTransactionTerminated, "%s", req.Method)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// send отправляет запрос, собранный build, и отвечает на digest-вызов
// 401/407 одной повторной попыткой с новым запросом
func (u *UACUAS) send(ctx context.Context, build func() *sip.Request, onProvisional func(*sip.Response)) (*sip.Request, *sip.Response, error) {
	var challenge *sip.Response
	for attempt := 0; ; attempt++ {
		req := build()
		if challenge != nil {
			if err := u.authorize(req, challenge); err != nil {
				return req, challenge, err
			}
		}
		res, err := u.roundTrip(ctx, req, onProvisional)
		if err != nil {
			return req, nil, err
		}
		if !isChallenge(res) || attempt > 0 {
			return req, res, nil
		}
		challenge = res
	}
}

func isChallenge(res *sip.Response) bool {
	return res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired
}

func isSuccess(res *sip.Response) bool {
	return res.StatusCode >= 200 && res.StatusCode < 300
}

func statusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	case code < 600:
		return "5xx"
	default:
		return "6xx"
	}
}

// statusErr ошибка для финального неуспешного ответа
func statusErr(res *sip.Response) error {
	return &StatusError{Code: res.StatusCode, Reason: res.Reason}
}
