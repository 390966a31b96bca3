package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

const contentTypeDTMFRelay = "application/dtmf-relay"

func validDTMF(digit rune) bool {
	switch {
	case digit >= '0' && digit <= '9':
		return true
	case digit >= 'A' && digit <= 'D':
		return true
	case digit == '*', digit == '#':
		return true
	}
	return false
}

// dtmfRelayBody тело INFO application/dtmf-relay
func dtmfRelayBody(digit rune, duration time.Duration) []byte {
	return []byte(fmt.Sprintf("Signal=%c\r\nDuration=%d\r\n", digit, duration.Milliseconds()))
}

// SendDTMF отправляет цифры по одной в запросах INFO с паузой между ними.
// Строка проверяется целиком до отправки первой цифры.
func (s *Session) SendDTMF(ctx context.Context, digits string) error {
	if digits == "" {
		return errors.Wrap(ErrInvalidDTMF, "пустая строка")
	}
	for _, d := range digits {
		if !validDTMF(d) {
			return errors.Wrapf(ErrInvalidDTMF, "символ %q", d)
		}
	}
	if s.State() != stateConfirmed {
		return ErrNotConfirmed
	}

	cfg := s.ua.cfg
	for i, d := range digits {
		if i > 0 && cfg.DTMFInterToneGap > 0 {
			select {
			case <-time.After(cfg.DTMFInterToneGap):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		body := dtmfRelayBody(d, cfg.DTMFDuration)
		_, res, err := s.ua.send(ctx, func() *sip.Request {
			req := s.makeRequest(sip.INFO)
			setContent(req, contentTypeDTMFRelay, body)
			return req
		}, nil)
		if err != nil {
			return errors.Wrap(err, "ошибка отправки INFO")
		}
		if !isSuccess(res) {
			return errors.Wrapf(statusErr(res), "INFO с цифрой %c отклонен", d)
		}
		s.log.Debug("dtmf sent", slog.String("digit", string(d)))
	}
	return nil
}
