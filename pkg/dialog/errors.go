package dialog

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	CallIDDoesNotExist = "empty call id"
	CallDoesNotExist   = "transaction not found"
)

var (
	// ErrNotConfirmed операция требует подтвержденного диалога
	ErrNotConfirmed = errors.New("dialog is not confirmed")
	// ErrTerminated диалог уже завершен
	ErrTerminated = errors.New("dialog terminated")
	// ErrWrongDirection операция недоступна для этого направления вызова
	ErrWrongDirection = errors.New("operation not allowed for call direction")
	// ErrAlreadyAnswered на входящий вызов уже ответили
	ErrAlreadyAnswered = errors.New("call already answered")
	// ErrNoCredentials сервер требует авторизацию, а учетные данные не заданы
	ErrNoCredentials = errors.New("server requires auth but no credentials configured")
	// ErrTransactionTerminated транзакция завершилась без финального ответа
	ErrTransactionTerminated = errors.New("transaction terminated without final response")
	// ErrInvalidDTMF недопустимый символ DTMF
	ErrInvalidDTMF = errors.New("invalid dtmf digit")
)

// StatusError финальный ответ SIP с кодом ошибки
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("sip status %d", e.Code)
	}
	return fmt.Sprintf("sip status %d %s", e.Code, e.Reason)
}
