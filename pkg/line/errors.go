package line

import "github.com/pkg/errors"

var (
	// ErrNotFound линия с таким id не зарегистрирована
	ErrNotFound = errors.New("line not found")
	// ErrDuplicateID линия с таким id уже зарегистрирована
	ErrDuplicateID = errors.New("duplicate line id")
	// ErrCapacityExceeded достигнут лимит одновременных линий
	ErrCapacityExceeded = errors.New("maximum calls reached")
	// ErrNotEstablished операция требует подтвержденного вызова
	ErrNotEstablished = errors.New("call must be established")
	// ErrTransferFailed удаленная сторона отклонила или не смогла выполнить перевод
	ErrTransferFailed = errors.New("transfer failed")
	// ErrTransferPending на линии уже выполняется перевод
	ErrTransferPending = errors.New("transfer already in progress")
	// ErrRegistrationTimeout регистрация не завершилась за отведенное время
	ErrRegistrationTimeout = errors.New("registration timeout")
	// ErrRegistrationFailed сервер отклонил регистрацию
	ErrRegistrationFailed = errors.New("registration failed")
	// ErrClosed менеджер уже остановлен
	ErrClosed = errors.New("line manager closed")
	// ErrNoSession сессия линии еще не создана стеком
	ErrNoSession = errors.New("line has no session yet")
	// ErrAlreadySettled на приглашение уже ответили или отклонили его
	ErrAlreadySettled = errors.New("invitation already settled")
)
