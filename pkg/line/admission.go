package line

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

const (
	codeBusyHere   = 486
	codeServerErr  = 500
	reasonMaxCalls = "Maximum calls reached"
	reasonBusyHere = "Busy Here"
)

// Invitation входящее приглашение, уже добавленное в реестр.
// Accept и Decline действуют только на свою линию и срабатывают один раз.
type Invitation struct {
	m    *Manager
	line Line
	uri  string
}

// ID идентификатор линии приглашения
func (inv *Invitation) ID() string { return inv.line.ID }

// Line снимок линии на момент приема
func (inv *Invitation) Line() Line { return inv.line }

// RemoteURI адрес вызывающей стороны
func (inv *Invitation) RemoteURI() string { return inv.uri }

// Accept отвечает на вызов. Если активна другая линия, она сначала
// ставится на удержание, затем новая линия становится активной.
func (inv *Invitation) Accept(ctx context.Context) error {
	return inv.m.accept(ctx, inv.line.ID)
}

// Decline отклоняет вызов с 486 Busy Here и удаляет линию
func (inv *Invitation) Decline(ctx context.Context) error {
	return inv.m.decline(ctx, inv.line.ID)
}

// admit обработчик входящих приглашений стека
func (m *Manager) admit(s Session) {
	var (
		inv    *Invitation
		reject bool
	)
	err := m.apply(func(b *batch) error {
		if m.closed || !m.canAddLocked() {
			reject = true
			return nil
		}

		e := m.newEntry(m.cfg.NewID(), s.RemoteURI(), Incoming, stateProgress)
		e.session = s
		if m.active != "" {
			e.pending = true
			e.line.IsHeld = true
		}
		if err := m.lines.add(e); err != nil {
			return err
		}
		m.metrics.linesAdded.WithLabelValues(Incoming.String()).Inc()
		m.metrics.linesActive.Set(float64(m.lines.len()))
		b.added(e.line)
		if !e.pending {
			m.setActiveLocked(e.line.ID, b)
		}

		inv = &Invitation{m: m, line: e.line, uri: s.RemoteURI()}
		id := e.line.ID
		b.then(func() { s.OnEvent(m.handlerFor(id)) })
		if m.cfg.OnIncoming != nil {
			b.then(func() { m.cfg.OnIncoming(inv) })
		}
		return nil
	})

	if err != nil {
		m.logger.Error("admit incoming call", slog.Any("error", err))
		_ = s.Terminate(m.ctx, codeServerErr, "Server Internal Error")
		return
	}
	if !reject {
		m.logger.Debug("incoming call admitted",
			slog.String("lineID", inv.line.ID),
			slog.String("from", inv.uri))
		return
	}

	m.metrics.rejected.Inc()
	m.logger.Info("incoming call rejected, line limit reached",
		slog.String("from", s.RemoteURI()),
		slog.Int("maxLines", m.cfg.MaxLines))
	if err := s.Terminate(m.ctx, codeBusyHere, reasonMaxCalls); err != nil {
		m.logger.Warn("reject incoming call failed", slog.Any("error", err))
	}
}

func (m *Manager) accept(ctx context.Context, id string) error {
	m.beginSwitch()
	defer m.endSwitch()

	var (
		s      Session
		prev   Session
		prevID string
	)
	err := m.apply(func(b *batch) error {
		if m.closed {
			return ErrClosed
		}
		e, err := m.lines.get(id)
		if err != nil {
			return err
		}
		if e.settled {
			return errors.Wrapf(ErrAlreadySettled, "line %s", id)
		}
		e.settled = true
		s = e.session
		prevID = m.active
		if prevID != "" && prevID != id {
			if p, err := m.lines.get(prevID); err == nil && !p.line.IsHeld && p.session != nil {
				prev = p.session
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("Invitation.Accept",
		slog.String("lineID", id),
		slog.String("previous", prevID))

	if prev != nil {
		if err := prev.Hold(ctx); err != nil {
			m.unsettle(id)
			return errors.Wrapf(err, "hold line %s", prevID)
		}
	}
	if err := s.Answer(ctx); err != nil {
		m.rollbackHold(prevID, prev)
		m.unsettle(id)
		return errors.Wrapf(err, "answer line %s", id)
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
		return err
	}
	return nil
}

func (m *Manager) unsettle(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, err := m.lines.get(id); err == nil {
		e.settled = false
	}
}

func (m *Manager) decline(ctx context.Context, id string) error {
	var s Session
	err := m.apply(func(b *batch) error {
		e, err := m.lines.get(id)
		if err != nil {
			return err
		}
		if e.settled {
			return errors.Wrapf(ErrAlreadySettled, "line %s", id)
		}
		e.settled = true
		s = e.session
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("Invitation.Decline", slog.String("lineID", id))

	if err := s.Terminate(ctx, codeBusyHere, reasonBusyHere); err != nil {
		m.unsettle(id)
		return errors.Wrapf(err, "decline line %s", id)
	}
	return m.apply(func(b *batch) error {
		m.removeLocked(id, b)
		return nil
	})
}
