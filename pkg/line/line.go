package line

import "time"

// Direction направление вызова на линии
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	switch d {
	case Incoming:
		return "incoming"
	case Outgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

// Status сигнальный статус сессии линии.
// Меняется только обработчиком событий жизненного цикла.
type Status int

const (
	StatusNone Status = iota
	StatusConnecting
	StatusProgress
	StatusConfirmed
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusConnecting:
		return "connecting"
	case StatusProgress:
		return "progress"
	case StatusConfirmed:
		return "confirmed"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func statusFromState(state string) Status {
	switch state {
	case stateConnecting:
		return StatusConnecting
	case stateProgress:
		return StatusProgress
	case stateConfirmed:
		return StatusConfirmed
	case stateTerminated:
		return StatusTerminated
	default:
		return StatusNone
	}
}

// Line снимок состояния одной линии.
// Сессия стека в снимок не входит и наружу не выдается.
type Line struct {
	ID        string
	Target    string
	Direction Direction
	Status    Status
	IsHeld    bool
	IsMuted   bool

	CreatedAt   time.Time
	ConfirmedAt time.Time
}

// Established true если вызов подтвержден
func (l Line) Established() bool {
	return l.Status == StatusConfirmed
}

// Duration длительность разговора с момента подтверждения
func (l Line) Duration(now time.Time) time.Duration {
	if l.ConfirmedAt.IsZero() {
		return 0
	}
	return now.Sub(l.ConfirmedAt)
}
