package line

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// Состояния перевода.
// pending - перевод зарегистрирован, REFER еще не отправлен;
// trying - REFER отправлен, ждем NOTIFY с окончательным кодом;
// completed - удаленная сторона приняла перевод;
// failed - удаленная сторона отклонила перевод или не смогла его выполнить.
const (
	transferPending   = "pending"
	transferTrying    = "trying"
	transferCompleted = "completed"
	transferFailed    = "failed"
)

const (
	transferBlind    = "blind"
	transferAttended = "attended"
)

func newTransferFSM() *fsm.FSM {
	return fsm.NewFSM(
		transferPending,
		fsm.Events{
			{Name: "sent", Src: []string{transferPending}, Dst: transferTrying},
			{Name: "accepted", Src: []string{transferPending, transferTrying}, Dst: transferCompleted},
			{Name: "rejected", Src: []string{transferPending, transferTrying}, Dst: transferFailed},
		},
		fsm.Callbacks{},
	)
}

// transfer перевод, выполняющийся на линии
type transfer struct {
	kind   string
	target string
	state  *fsm.FSM
	done   chan error
}

func newTransfer(kind, target string) *transfer {
	return &transfer{
		kind:   kind,
		target: target,
		state:  newTransferFSM(),
		done:   make(chan error, 1),
	}
}

func (t *transfer) fire(event string) {
	if t.state.Can(event) {
		_ = t.state.Event(context.Background(), event)
	}
}

func transferError(id string, ev SessionEvent) error {
	if ev.Code != 0 {
		return errors.Wrapf(ErrTransferFailed, "line %s: %d %s", id, ev.Code, ev.Reason)
	}
	if ev.Reason != "" {
		return errors.Wrapf(ErrTransferFailed, "line %s: %s", id, ev.Reason)
	}
	return errors.Wrapf(ErrTransferFailed, "line %s", id)
}

// BlindTransfer переводит подтвержденный вызов на target без консультации.
//
// Метод ждет сигнала принятия или отказа. При принятии линия удаляется,
// а ее сессия завершается; при отказе возвращается ErrTransferFailed и
// линия остается без изменений. Отмена ctx прекращает только ожидание:
// перевод продолжается, его исход сообщается через Sink.
func (m *Manager) BlindTransfer(ctx context.Context, id, target string) error {
	if target == "" {
		return errors.New("transfer target is empty")
	}
	s, t, err := m.beginTransfer(id, transferBlind, target)
	if err != nil {
		return err
	}
	return m.runTransfer(ctx, id, s, t)
}

// TransferCall переводит вызов линии fromID на удаленную сторону линии toID.
// Адрес берется из сессии toID в момент вызова, а не из сохраненной
// строки набора.
func (m *Manager) TransferCall(ctx context.Context, fromID, toID string) error {
	m.mu.RLock()
	_, ferr := m.lines.get(fromID)
	to, terr := m.lines.get(toID)
	var ts Session
	if terr == nil {
		ts = to.session
	}
	m.mu.RUnlock()
	if ferr != nil {
		return ferr
	}
	if terr != nil {
		return terr
	}
	if ts == nil {
		return errors.Wrapf(ErrNoSession, "line %s", toID)
	}

	target := ts.RemoteURI()
	if target == "" {
		return errors.Errorf("line %s has no remote uri", toID)
	}

	s, t, err := m.beginTransfer(fromID, transferAttended, target)
	if err != nil {
		return err
	}
	return m.runTransfer(ctx, fromID, s, t)
}

func (m *Manager) beginTransfer(id, kind, target string) (Session, *transfer, error) {
	var (
		s Session
		t *transfer
	)
	err := m.apply(func(b *batch) error {
		if m.closed {
			return ErrClosed
		}
		e, err := m.lines.get(id)
		if err != nil {
			return err
		}
		if e.line.Status != StatusConfirmed {
			return errors.Wrapf(ErrNotEstablished, "line %s", id)
		}
		if e.session == nil {
			return errors.Wrapf(ErrNoSession, "line %s", id)
		}
		if e.transfer != nil {
			return errors.Wrapf(ErrTransferPending, "line %s", id)
		}
		t = newTransfer(kind, target)
		e.transfer = t
		s = e.session
		return nil
	})
	return s, t, err
}

func (m *Manager) runTransfer(ctx context.Context, id string, s Session, t *transfer) error {
	m.logger.Debug("Manager.Transfer",
		slog.String("lineID", id),
		slog.String("kind", t.kind),
		slog.String("target", t.target))

	if err := s.Refer(ctx, t.target); err != nil {
		err = errors.Wrapf(ErrTransferFailed, "line %s: send refer: %v", id, err)
		_ = m.apply(func(b *batch) error {
			if e, gerr := m.lines.get(id); gerr == nil && e.transfer == t {
				e.transfer = nil
			}
			t.fire("rejected")
			m.metrics.transfers.WithLabelValues(t.kind, "failed").Inc()
			b.transferFailed(id, err)
			return nil
		})
		return err
	}

	_ = m.apply(func(b *batch) error {
		t.fire("sent")
		return nil
	})

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settleTransfer завершает перевод линии, если он выполняется
func settleTransfer(m *Manager, e *entry, err error, b *batch) {
	t := e.transfer
	if t == nil {
		return
	}
	e.transfer = nil
	if err != nil {
		t.fire("rejected")
		m.metrics.transfers.WithLabelValues(t.kind, "failed").Inc()
		b.transferFailed(e.line.ID, err)
	} else {
		t.fire("accepted")
		m.metrics.transfers.WithLabelValues(t.kind, "completed").Inc()
	}
	t.done <- err
}

func onTransferAccepted(m *Manager, e *entry, ev SessionEvent, b *batch) {
	if e.transfer == nil {
		m.logger.Debug("transfer accepted without pending transfer",
			slog.String("lineID", e.line.ID))
		return
	}
	settleTransfer(m, e, nil, b)

	id := e.line.ID
	s := e.session
	m.removeLocked(id, b)
	b.then(func() {
		if err := s.Terminate(m.ctx, 0, ""); err != nil {
			m.logger.Warn("terminate transferred line failed",
				slog.String("lineID", id),
				slog.Any("error", err))
		}
	})
}

func onTransferFailed(m *Manager, e *entry, ev SessionEvent, b *batch) {
	if e.transfer == nil {
		return
	}
	settleTransfer(m, e, transferError(e.line.ID, ev), b)
}
