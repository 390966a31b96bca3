package dialog

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/pkg/errors"
)

// Register регистрирует учетную запись на регистраторе и запускает
// периодическое обновление регистрации
func (u *UACUAS) Register(ctx context.Context) error {
	if err := u.register(ctx, u.cfg.RegisterExpires); err != nil {
		u.registered.Store(false)
		u.notify(ConnectionRegistrationFailed)
		return err
	}
	return nil
}

// Unregister снимает регистрацию (Expires: 0)
func (u *UACUAS) Unregister(ctx context.Context) error {
	u.stopRefresh()
	err := u.register(ctx, 0)
	if u.registered.Swap(false) {
		u.notify(ConnectionUnregistered)
	}
	return err
}

func (u *UACUAS) IsRegistered() bool {
	return u.registered.Load()
}

func (u *UACUAS) register(ctx context.Context, expires time.Duration) error {
	_, res, err := u.send(ctx, func() *sip.Request { return u.registerRequest(expires) }, nil)
	if err != nil {
		return errors.Wrap(err, "ошибка отправки REGISTER")
	}
	if !isSuccess(res) {
		return errors.Wrap(statusErr(res), "регистрация отклонена")
	}
	if expires == 0 {
		return nil
	}

	granted := grantedExpires(res, expires)
	u.log.Info("registered",
		slog.String("aor", u.aor.String()),
		slog.Duration("expires", granted))
	u.registered.Store(true)
	u.notify(ConnectionRegistered)
	u.scheduleRefresh(granted)
	return nil
}

// registerRequest REGISTER с общим Call-ID и растущим CSeq
func (u *UACUAS) registerRequest(expires time.Duration) *sip.Request {
	u.mu.Lock()
	u.regCSeq++
	cseq := u.regCSeq
	u.mu.Unlock()

	req := sip.NewRequest(sip.REGISTER, u.registrar)
	req.AppendHeader(&sip.FromHeader{
		DisplayName: u.cfg.DisplayName,
		Address:     u.aor,
		Params:      sip.NewParams().Add("tag", u.newTag()),
	})
	req.AppendHeader(&sip.ToHeader{Address: u.aor, Params: sip.NewParams()})
	req.AppendHeader(u.contactHeader())
	callID := sip.CallIDHeader(u.regCallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.REGISTER})
	maxForwards := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxForwards)
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expires/time.Second))))
	u.route(req)
	return req
}

// grantedExpires срок регистрации из ответа: параметр expires в Contact,
// затем заголовок Expires, иначе запрошенный
func grantedExpires(res *sip.Response, requested time.Duration) time.Duration {
	if c := res.Contact(); c != nil && c.Params != nil {
		if v, ok := c.Params.Get("expires"); ok {
			if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
				return time.Duration(sec) * time.Second
			}
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if sec, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return requested
}

// refreshIn момент обновления регистрации до ее истечения
func refreshIn(expires time.Duration) time.Duration {
	return expires * 9 / 10
}

func (u *UACUAS) scheduleRefresh(expires time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.regTimer != nil {
		u.regTimer.Stop()
	}
	u.regTimer = time.AfterFunc(refreshIn(expires), u.refresh)
}

func (u *UACUAS) refresh() {
	if u.ctx.Err() != nil {
		return
	}
	u.notify(ConnectionRegistrationExpiring)

	ctx, cancel := context.WithTimeout(u.ctx, u.cfg.RequestTimeout)
	defer cancel()
	if err := u.Register(ctx); err != nil {
		u.log.Warn("registration refresh failed", slog.Any("error", err))
	}
}

func (u *UACUAS) stopRefresh() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.regTimer != nil {
		u.regTimer.Stop()
		u.regTimer = nil
	}
}

// authorize добавляет в запрос ответ на digest-вызов из res
func (u *UACUAS) authorize(req *sip.Request, res *sip.Response) error {
	if u.cfg.Username == "" || u.cfg.Password == "" {
		return ErrNoCredentials
	}

	challengeHeader, authHeader := "WWW-Authenticate", "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		challengeHeader, authHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}
	h := res.GetHeader(challengeHeader)
	if h == nil {
		return errors.Errorf("в ответе %d нет заголовка %s", res.StatusCode, challengeHeader)
	}

	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return errors.Wrap(err, "ошибка разбора digest-вызова")
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: u.cfg.Username,
		Password: u.cfg.Password,
	})
	if err != nil {
		return errors.Wrap(err, "ошибка вычисления digest")
	}
	req.AppendHeader(sip.NewHeader(authHeader, cred.String()))
	return nil
}
