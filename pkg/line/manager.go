package line

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// Manager координатор линий поверх сигнального стека.
//
// Все изменения реестра и активной линии выполняются под mu, протокольные
// операции сессий (Hold, Unhold, Answer, Refer, Terminate) вызываются вне mu.
// Смена активной линии сериализуется switchMu: сначала удержание старой
// линии, затем снятие с удержания новой.
type Manager struct {
	cfg     Config
	ua      UserAgent
	logger  *slog.Logger
	metrics *metrics

	mu     sync.RWMutex
	lines  *registry
	active string
	closed bool

	switchMu  sync.Mutex
	switching bool
	deferred  []func()

	notifier *notifier

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager создает менеджер линий.
// Входящие вызовы начинают обрабатываться после Start.
func NewManager(cfg Config, ua UserAgent) (*Manager, error) {
	if ua == nil {
		return nil, fmt.Errorf("user agent is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid line manager config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger.With(slog.String("component", "line"))

	return &Manager{
		cfg:      cfg,
		ua:       ua,
		logger:   logger,
		metrics:  newMetrics(cfg.Registerer),
		lines:    newRegistry(),
		notifier: newNotifier(logger),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start подписывает менеджер на входящие приглашения стека
func (m *Manager) Start() {
	m.ua.OnIncoming(m.admit)
}

// Close завершает все линии и снимает регистрацию.
// После Close команды возвращают ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	err := m.terminateAll(ctx)
	if m.ua.IsRegistered() {
		if uerr := m.ua.Unregister(ctx); uerr != nil && err == nil {
			err = errors.Wrap(uerr, "unregister")
		}
	}
	m.cancel()
	m.ua.OnIncoming(nil)
	return err
}

// Subscribe подключает получателя уведомлений.
// Возвращает функцию отписки.
func (m *Manager) Subscribe(s Sink) func() {
	return m.notifier.subscribe(s)
}

// batch уведомления и отложенные действия одной мутации
type batch struct {
	items []notification
	after []func()
}

func (b *batch) added(l Line) {
	b.items = append(b.items, notification{kind: notifyLineAdded, line: l, id: l.ID})
}

func (b *batch) removed(id string) {
	b.items = append(b.items, notification{kind: notifyLineRemoved, id: id})
}

func (b *batch) changed(l Line) {
	b.items = append(b.items, notification{kind: notifyLineChanged, line: l, id: l.ID})
}

func (b *batch) activeChanged(id string) {
	b.items = append(b.items, notification{kind: notifyActiveLineChanged, id: id})
}

func (b *batch) transferFailed(id string, err error) {
	b.items = append(b.items, notification{kind: notifyTransferFailed, id: id, err: err})
}

func (b *batch) registrationFailed(err error) {
	b.items = append(b.items, notification{kind: notifyRegistrationFailed, err: err})
}

// then откладывает действие до момента после доставки уведомлений
func (b *batch) then(fn func()) {
	b.after = append(b.after, fn)
}

// apply выполняет мутацию под mu. Если fn вернула ошибку, уведомления
// отбрасываются, поэтому fn не должна ничего менять до проверки условий.
// Пока идет смена активной линии, доставка и отложенные действия ждут
// endSwitch.
func (m *Manager) apply(fn func(b *batch) error) error {
	var b batch
	m.mu.Lock()
	if err := fn(&b); err != nil {
		m.mu.Unlock()
		return err
	}
	m.notifier.push(b.items...)
	if m.switching {
		m.deferred = append(m.deferred, b.after...)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.notifier.drain()
	for _, f := range b.after {
		f()
	}
	return nil
}

// beginSwitch захватывает смену активной линии
func (m *Manager) beginSwitch() {
	m.switchMu.Lock()
	m.mu.Lock()
	m.switching = true
	m.mu.Unlock()
}

// endSwitch освобождает смену активной линии и доставляет накопленное
func (m *Manager) endSwitch() {
	m.mu.Lock()
	m.switching = false
	after := m.deferred
	m.deferred = nil
	m.mu.Unlock()
	m.switchMu.Unlock()

	m.notifier.drain()
	for _, f := range after {
		f()
	}
}

// Lines возвращает копию линий в порядке добавления
func (m *Manager) Lines() []Line {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lines.snapshot()
}

// Line возвращает снимок линии
func (m *Manager) Line(id string) (Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.lines.get(id)
	if err != nil {
		return Line{}, err
	}
	return e.line, nil
}

// Len число зарегистрированных линий
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lines.len()
}

// ActiveLine id активной линии или пустая строка
func (m *Manager) ActiveLine() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// CanAddLine true если лимит линий позволяет добавить еще одну
func (m *Manager) CanAddLine() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && m.canAddLocked()
}

func (m *Manager) canAddLocked() bool {
	return m.cfg.MaxLines == 0 || m.lines.len() < m.cfg.MaxLines
}

// FindLineByTarget ищет линию по точному совпадению адреса: сначала с
// согласованной удаленной идентичностью сессии, затем с исходной строкой
// набора. Поиск по подстроке не выполняется.
func (m *Manager) FindLineByTarget(uri string) (Line, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *entry
	m.lines.each(func(e *entry) {
		if found == nil && e.session != nil && e.session.RemoteURI() == uri {
			found = e
		}
	})
	if found == nil {
		m.lines.each(func(e *entry) {
			if found == nil && e.line.Target == uri {
				found = e
			}
		})
	}
	if found == nil {
		return Line{}, false
	}
	return found.line, true
}

// IsRegistered состояние регистрации на сервере
func (m *Manager) IsRegistered() bool {
	return m.ua.IsRegistered()
}

// IsConnected состояние транспорта
func (m *Manager) IsConnected() bool {
	return m.ua.IsConnected()
}

// Register регистрирует абонента с таймаутом из конфигурации
func (m *Manager) Register(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RegisterTimeout)
	defer cancel()

	err := m.ua.Register(ctx)
	if err == nil {
		m.metrics.registers.WithLabelValues("ok").Inc()
		m.logger.Info("registered")
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrRegistrationTimeout, err)
		m.metrics.registers.WithLabelValues("timeout").Inc()
	} else {
		err = fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
		m.metrics.registers.WithLabelValues("failed").Inc()
	}
	m.logger.Warn("registration failed", slog.Any("error", err))

	_ = m.apply(func(b *batch) error {
		b.registrationFailed(err)
		return nil
	})
	return err
}

// Unregister снимает регистрацию
func (m *Manager) Unregister(ctx context.Context) error {
	if err := m.ua.Unregister(ctx); err != nil {
		return errors.Wrap(err, "unregister")
	}
	return nil
}

// Call совершает исходящий вызов.
//
// Линия добавляется до создания сессии. Если активной линии нет, новая
// линия сразу становится активной, иначе она ждет подтверждения вызова
// с IsHeld=true и активируется на событии confirmed.
func (m *Manager) Call(ctx context.Context, target string) (Line, error) {
	if target == "" {
		return Line{}, fmt.Errorf("target is empty")
	}

	var e *entry
	err := m.apply(func(b *batch) error {
		if m.closed {
			return ErrClosed
		}
		if !m.canAddLocked() {
			return errors.Wrapf(ErrCapacityExceeded, "max lines %d", m.cfg.MaxLines)
		}

		e = m.newEntry(m.cfg.NewID(), target, Outgoing, stateNone)
		if m.active != "" {
			e.pending = true
			e.line.IsHeld = true
		}
		if err := m.lines.add(e); err != nil {
			return err
		}
		m.metrics.linesAdded.WithLabelValues(Outgoing.String()).Inc()
		m.metrics.linesActive.Set(float64(m.lines.len()))
		b.added(e.line)
		if !e.pending {
			m.setActiveLocked(e.line.ID, b)
		}
		return nil
	})
	if err != nil {
		return Line{}, err
	}

	id := e.line.ID
	m.logger.Debug("Manager.Call",
		slog.String("lineID", id),
		slog.String("target", target))

	s, err := m.ua.PlaceCall(ctx, target, m.handlerFor(id))
	if err != nil {
		m.logger.Warn("place call failed",
			slog.String("lineID", id),
			slog.Any("error", err))
		_ = m.apply(func(b *batch) error {
			m.removeLocked(id, b)
			return nil
		})
		return Line{}, errors.Wrap(err, "place call")
	}

	var snapshot Line
	_ = m.apply(func(b *batch) error {
		snapshot = e.line
		cur, err := m.lines.get(id)
		if err != nil || m.closed {
			// линию удалили, пока создавалась сессия
			m.logger.Debug("line removed during call setup", slog.String("lineID", id))
			m.removeLocked(id, b)
			b.then(func() {
				if err := s.Terminate(context.WithoutCancel(ctx), 0, ""); err != nil {
					m.logger.Warn("terminate orphaned session failed",
						slog.String("lineID", id),
						slog.Any("error", err))
				}
			})
			return nil
		}
		cur.session = s
		snapshot = cur.line
		return nil
	})
	return snapshot, nil
}

// SetActive делает линию активной: удерживает предыдущую активную линию,
// затем снимает с удержания новую. ActiveLineChanged отправляется после
// завершения обеих операций.
func (m *Manager) SetActive(ctx context.Context, id string) error {
	m.beginSwitch()
	defer m.endSwitch()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	target, err := m.lines.get(id)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	if m.active == id && !target.line.IsHeld {
		m.mu.RUnlock()
		return nil
	}
	if target.line.Status != StatusConfirmed {
		m.mu.RUnlock()
		return errors.Wrapf(ErrNotEstablished, "line %s", id)
	}
	var prev Session
	prevID := m.active
	if prevID != "" && prevID != id {
		if p, err := m.lines.get(prevID); err == nil && !p.line.IsHeld && p.session != nil {
			prev = p.session
		}
	}
	ts := target.session
	targetHeld := target.line.IsHeld
	m.mu.RUnlock()

	m.logger.Debug("Manager.SetActive",
		slog.String("lineID", id),
		slog.String("previous", prevID))

	if prev != nil {
		if err := prev.Hold(ctx); err != nil {
			return errors.Wrapf(err, "hold line %s", prevID)
		}
	}
	if targetHeld {
		if err := ts.Unhold(ctx); err != nil {
			m.rollbackHold(prevID, prev)
			return errors.Wrapf(err, "unhold line %s", id)
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
		return err
	}
	return nil
}

// SwitchLine переключает активную линию, то же что SetActive
func (m *Manager) SwitchLine(ctx context.Context, id string) error {
	return m.SetActive(ctx, id)
}

func (m *Manager) rollbackHold(id string, s Session) {
	if s == nil {
		return
	}
	if err := s.Unhold(m.ctx); err != nil {
		m.logger.Warn("rollback hold failed",
			slog.String("lineID", id),
			slog.Any("error", err))
	}
}

// session возвращает сессию подтвержденной линии
func (m *Manager) session(id string, needEstablished bool) (Session, Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, Line{}, ErrClosed
	}
	e, err := m.lines.get(id)
	if err != nil {
		return nil, Line{}, err
	}
	if needEstablished && e.line.Status != StatusConfirmed {
		return nil, Line{}, errors.Wrapf(ErrNotEstablished, "line %s", id)
	}
	if e.session == nil {
		return nil, Line{}, errors.Wrapf(ErrNoSession, "line %s", id)
	}
	return e.session, e.line, nil
}

// Hold ставит линию на удержание. Повторный вызов ничего не делает.
// Активная линия остается активной, Unhold возобновляет ее без переключения.
func (m *Manager) Hold(ctx context.Context, id string) error {
	s, l, err := m.session(id, true)
	if err != nil {
		return err
	}
	if l.IsHeld {
		return nil
	}
	return errors.Wrapf(s.Hold(ctx), "hold line %s", id)
}

// Unhold снимает линию с удержания. Неактивная линия сначала становится
// активной, чтобы не оказалось двух линий без удержания.
func (m *Manager) Unhold(ctx context.Context, id string) error {
	if m.ActiveLine() != id {
		return m.SetActive(ctx, id)
	}
	s, l, err := m.session(id, true)
	if err != nil {
		return err
	}
	if !l.IsHeld {
		return nil
	}
	m.beginSwitch()
	defer m.endSwitch()
	return errors.Wrapf(s.Unhold(ctx), "unhold line %s", id)
}

// Mute выключает микрофон линии
func (m *Manager) Mute(id string) error {
	s, l, err := m.session(id, false)
	if err != nil {
		return err
	}
	if l.IsMuted {
		return nil
	}
	return errors.Wrapf(s.Mute(), "mute line %s", id)
}

// Unmute включает микрофон линии
func (m *Manager) Unmute(id string) error {
	s, l, err := m.session(id, false)
	if err != nil {
		return err
	}
	if !l.IsMuted {
		return nil
	}
	return errors.Wrapf(s.Unmute(), "unmute line %s", id)
}

// SendDTMF отправляет DTMF на подтвержденной линии
func (m *Manager) SendDTMF(ctx context.Context, id, digits string) error {
	if digits == "" {
		return fmt.Errorf("dtmf digits are empty")
	}
	s, _, err := m.session(id, true)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.SendDTMF(ctx, digits), "send dtmf on line %s", id)
}

// TerminateLine завершает вызов на линии и удаляет ее
// Незавершенный перевод на линии завершается ошибкой до отправки BYE.
func (m *Manager) TerminateLine(ctx context.Context, id string) error {
	var s Session
	err := m.apply(func(b *batch) error {
		e, err := m.lines.get(id)
		if err != nil {
			return err
		}
		s = e.session
		settleTransfer(m, e, errors.Wrapf(ErrTransferFailed, "line %s terminated", id), b)
		return nil
	})
	if err != nil {
		return err
	}

	if s != nil {
		if err := s.Terminate(ctx, 0, ""); err != nil {
			return errors.Wrapf(err, "terminate line %s", id)
		}
	}
	return m.apply(func(b *batch) error {
		m.removeLocked(id, b)
		return nil
	})
}

// TerminateAll завершает все линии. Возвращает первую ошибку,
// но пытается завершить каждую линию.
func (m *Manager) TerminateAll(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return m.terminateAll(ctx)
}

func (m *Manager) terminateAll(ctx context.Context) error {
	var first error
	for _, l := range m.Lines() {
		err := m.TerminateLine(ctx, l.ID)
		if err != nil && !errors.Is(err, ErrNotFound) && first == nil {
			first = err
		}
	}
	return first
}
