package line

import (
	"context"
	"log/slog"
	"time"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// Состояния сигнального автомата линии
const (
	stateNone       = "none"
	stateConnecting = "connecting"
	stateProgress   = "progress"
	stateConfirmed  = "confirmed"
	stateTerminated = "terminated"
)

/*
Автомат статуса линии:

	none → connecting → progress → confirmed → terminated
	  └──────────┴──────────┴────────→ terminated

Удержание и выключение микрофона не состояния автомата, а флаги линии.
Повторное событие, для которого нет перехода, игнорируется без уведомлений.
*/
func newStatusFSM(initial string, e *entry) *fsm.FSM {
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: EventConnecting.String(), Src: []string{stateNone}, Dst: stateConnecting},
			{Name: EventProgress.String(), Src: []string{stateNone, stateConnecting}, Dst: stateProgress},
			{Name: EventConfirmed.String(), Src: []string{stateNone, stateConnecting, stateProgress}, Dst: stateConfirmed},
			{Name: "terminate", Src: []string{stateNone, stateConnecting, stateProgress, stateConfirmed}, Dst: stateTerminated},
		},
		fsm.Callbacks{
			"enter_" + stateConfirmed: func(_ context.Context, _ *fsm.Event) {
				e.line.ConfirmedAt = time.Now()
			},
			"after_event": func(_ context.Context, ev *fsm.Event) {
				e.line.Status = statusFromState(ev.Dst)
			},
		},
	)
}

// eventFunc обработчик события сессии, вызывается под мьютексом менеджера
type eventFunc func(m *Manager, e *entry, ev SessionEvent, b *batch)

// dispatchTable таблица переходов линии по типу события
type dispatchTable map[EventKind]eventFunc

// newDispatchTable строит таблицу один раз при создании линии
func newDispatchTable() dispatchTable {
	return dispatchTable{
		EventConnecting:       onStatus,
		EventProgress:         onStatus,
		EventConfirmed:        onConfirmed,
		EventFailed:           onTerminal,
		EventEnded:            onTerminal,
		EventHold:             onHeld(true),
		EventUnhold:           onHeld(false),
		EventMuted:            onMuted(true),
		EventUnmuted:          onMuted(false),
		EventTransferAccepted: onTransferAccepted,
		EventTransferFailed:   onTransferFailed,
	}
}

func (m *Manager) newEntry(id, target string, dir Direction, initial string) *entry {
	e := &entry{
		line: Line{
			ID:        id,
			Target:    target,
			Direction: dir,
			Status:    statusFromState(initial),
			CreatedAt: time.Now(),
		},
		dispatch: newDispatchTable(),
	}
	e.status = newStatusFSM(initial, e)
	return e
}

// handlerFor обработчик событий сессии для линии id
func (m *Manager) handlerFor(id string) EventHandler {
	return func(ev SessionEvent) {
		_ = m.apply(func(b *batch) error {
			e, err := m.lines.get(id)
			if err != nil {
				m.logger.Debug("event for removed line",
					slog.String("lineID", id),
					slog.String("event", ev.Kind.String()))
				return nil
			}
			fn, ok := e.dispatch[ev.Kind]
			if !ok {
				m.logger.Debug("unhandled session event",
					slog.String("lineID", id),
					slog.String("event", ev.Kind.String()))
				return nil
			}
			fn(m, e, ev, b)
			return nil
		})
	}
}

// transition выполняет переход автомата, false если перехода нет
func transition(e *entry, ev EventKind) bool {
	name := ev.String()
	if !e.status.Can(name) {
		return false
	}
	return e.status.Event(context.Background(), name) == nil
}

func onStatus(m *Manager, e *entry, ev SessionEvent, b *batch) {
	if transition(e, ev.Kind) {
		b.changed(e.line)
	}
}

func onConfirmed(m *Manager, e *entry, ev SessionEvent, b *batch) {
	if !transition(e, ev.Kind) {
		return
	}
	b.changed(e.line)
	if e.pending && e.line.Direction == Outgoing {
		id := e.line.ID
		b.then(func() { m.activatePending(id) })
	}
}

func onTerminal(m *Manager, e *entry, ev SessionEvent, b *batch) {
	m.logger.Debug("line terminated",
		slog.String("lineID", e.line.ID),
		slog.String("event", ev.Kind.String()),
		slog.Int("code", ev.Code),
		slog.String("reason", ev.Reason))
	// завершение вызова удаленной стороной после REFER считается выполненным переводом
	if ev.Kind == EventEnded {
		settleTransfer(m, e, nil, b)
	} else {
		settleTransfer(m, e, transferError(e.line.ID, ev), b)
	}
	m.removeLocked(e.line.ID, b)
}

func onHeld(held bool) eventFunc {
	return func(m *Manager, e *entry, ev SessionEvent, b *batch) {
		if e.line.IsHeld == held {
			return
		}
		e.line.IsHeld = held
		b.changed(e.line)
	}
}

func onMuted(muted bool) eventFunc {
	return func(m *Manager, e *entry, ev SessionEvent, b *batch) {
		if e.line.IsMuted == muted {
			return
		}
		e.line.IsMuted = muted
		b.changed(e.line)
	}
}

// setActiveLocked меняет активную линию и ставит уведомление
func (m *Manager) setActiveLocked(id string, b *batch) {
	if m.active == id {
		return
	}
	m.active = id
	m.metrics.activations.Inc()
	b.activeChanged(id)
}

// removeLocked удаляет линию. Если она была активной, активной становится
// первая оставшаяся линия. Незавершенный перевод линии завершается ошибкой.
// Повторное удаление ничего не делает.
func (m *Manager) removeLocked(id string, b *batch) {
	e, ok := m.lines.remove(id)
	if !ok {
		return
	}
	settleTransfer(m, e, errors.Wrapf(ErrTransferFailed, "line %s terminated", id), b)
	if e.status.Can("terminate") {
		_ = e.status.Event(context.Background(), "terminate")
	}
	m.metrics.linesRemoved.Inc()
	m.metrics.linesActive.Set(float64(m.lines.len()))
	b.removed(id)

	if m.active != id {
		return
	}
	next, ok := m.lines.first()
	if !ok {
		m.setActiveLocked("", b)
		return
	}
	nextID := next.line.ID
	m.setActiveLocked(nextID, b)
	if m.cfg.ResumeOnPromote && next.line.IsHeld && next.line.Status == StatusConfirmed && next.session != nil {
		s := next.session
		b.then(func() { m.resume(nextID, s) })
	}
}

// resume снимает с удержания линию, ставшую активной после удаления
// предыдущей активной линии
func (m *Manager) resume(id string, s Session) {
	m.beginSwitch()
	defer m.endSwitch()

	m.mu.RLock()
	e, err := m.lines.get(id)
	still := err == nil && m.active == id && e.line.IsHeld
	m.mu.RUnlock()
	if !still {
		return
	}

	if err := s.Unhold(m.ctx); err != nil {
		m.logger.Warn("resume promoted line failed",
			slog.String("lineID", id),
			slog.Any("error", err))
	}
}

// activatePending активирует исходящую линию после подтверждения:
// удерживает текущую активную линию и делает новую активной
func (m *Manager) activatePending(id string) {
	m.beginSwitch()
	defer m.endSwitch()

	m.mu.RLock()
	e, err := m.lines.get(id)
	if err != nil || !e.pending {
		m.mu.RUnlock()
		return
	}
	prevID := m.active
	var prev Session
	if prevID != "" && prevID != id {
		if p, err := m.lines.get(prevID); err == nil && !p.line.IsHeld && p.session != nil {
			prev = p.session
		}
	}
	m.mu.RUnlock()

	if prev != nil {
		if err := prev.Hold(m.ctx); err != nil {
			// новая линия остается на удержании, активная не меняется
			m.logger.Warn("hold before activation failed",
				slog.String("lineID", id),
				slog.String("previous", prevID),
				slog.Any("error", err))
			return
		}
	}

	err = m.apply(func(b *batch) error {
		e, err := m.lines.get(id)
		if err != nil {
			return err
		}
		if prev != nil {
			if p, err := m.lines.get(prevID); err == nil && !p.line.IsHeld {
				p.line.IsHeld = true
				b.changed(p.line)
			}
		}
		e.pending = false
		if e.line.IsHeld {
			e.line.IsHeld = false
			b.changed(e.line)
		}
		m.setActiveLocked(id, b)
		return nil
	})
	if err != nil {
		m.rollbackHold(prevID, prev)
	}
}
