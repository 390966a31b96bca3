package line

import "context"

//go:generate mockgen -destination=linemock/mock_stack.go -package=linemock github.com/arzzra/multiline/pkg/line Session,UserAgent,Sink

// EventKind тип события сессии, поступающего от сигнального стека
type EventKind int

const (
	EventConnecting EventKind = iota
	EventProgress
	EventConfirmed
	EventFailed
	EventEnded
	EventHold
	EventUnhold
	EventMuted
	EventUnmuted
	EventTransferAccepted
	EventTransferFailed
)

var eventKindNames = map[EventKind]string{
	EventConnecting:       "connecting",
	EventProgress:         "progress",
	EventConfirmed:        "confirmed",
	EventFailed:           "failed",
	EventEnded:            "ended",
	EventHold:             "hold",
	EventUnhold:           "unhold",
	EventMuted:            "muted",
	EventUnmuted:          "unmuted",
	EventTransferAccepted: "transfer_accepted",
	EventTransferFailed:   "transfer_failed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// SessionEvent событие сессии.
// Code и Reason заполняются для failed/ended и transfer_failed.
type SessionEvent struct {
	Kind   EventKind
	Code   int
	Reason string
}

// EventHandler получатель событий одной сессии.
// Стек обязан вызывать его последовательно в порядке возникновения событий.
type EventHandler func(SessionEvent)

// Session сессия сигнального стека, принадлежащая одной линии.
//
// Hold и Unhold блокируются до завершения re-INVITE и генерируют
// EventHold/EventUnhold до возврата. Refer возвращается после отправки
// запроса, исход перевода приходит событиями EventTransferAccepted
// или EventTransferFailed.
type Session interface {
	Answer(ctx context.Context) error
	Terminate(ctx context.Context, code int, reason string) error
	Hold(ctx context.Context) error
	Unhold(ctx context.Context) error
	Mute() error
	Unmute() error
	SendDTMF(ctx context.Context, digits string) error
	Refer(ctx context.Context, target string) error

	// RemoteURI каноническая удаленная идентичность после согласования
	RemoteURI() string
	Direction() Direction
	OnEvent(h EventHandler)
}

// UserAgent глобальные операции сигнального стека
type UserAgent interface {
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error
	IsRegistered() bool
	IsConnected() bool

	// PlaceCall создает исходящую сессию. Обработчик h подключается
	// до отправки INVITE, поэтому ни одно событие не теряется.
	PlaceCall(ctx context.Context, target string, h EventHandler) (Session, error)

	// OnIncoming устанавливает обработчик входящих приглашений
	OnIncoming(h func(Session))
}
