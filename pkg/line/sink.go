package line

import (
	"log/slog"
	"slices"
	"sync"
)

// Sink получатель уведомлений о линиях.
// Пустой id в OnActiveLineChanged означает отсутствие активной линии.
type Sink interface {
	OnLineAdded(l Line)
	OnLineRemoved(id string)
	OnLineChanged(l Line)
	OnActiveLineChanged(id string)
}

// TransferFailureSink получает асинхронные ошибки перевода
type TransferFailureSink interface {
	OnTransferFailed(id string, err error)
}

// RegistrationSink получает ошибки регистрации
type RegistrationSink interface {
	OnRegistrationFailed(err error)
}

// Events реализует Sink набором необязательных функций
type Events struct {
	LineAdded          func(l Line)
	LineRemoved        func(id string)
	LineChanged        func(l Line)
	ActiveLineChanged  func(id string)
	TransferFailed     func(id string, err error)
	RegistrationFailed func(err error)
}

var (
	_ Sink                = Events{}
	_ TransferFailureSink = Events{}
	_ RegistrationSink    = Events{}
)

func (e Events) OnLineAdded(l Line) {
	if e.LineAdded != nil {
		e.LineAdded(l)
	}
}

func (e Events) OnLineRemoved(id string) {
	if e.LineRemoved != nil {
		e.LineRemoved(id)
	}
}

func (e Events) OnLineChanged(l Line) {
	if e.LineChanged != nil {
		e.LineChanged(l)
	}
}

func (e Events) OnActiveLineChanged(id string) {
	if e.ActiveLineChanged != nil {
		e.ActiveLineChanged(id)
	}
}

func (e Events) OnTransferFailed(id string, err error) {
	if e.TransferFailed != nil {
		e.TransferFailed(id, err)
	}
}

func (e Events) OnRegistrationFailed(err error) {
	if e.RegistrationFailed != nil {
		e.RegistrationFailed(err)
	}
}

type notificationKind int

const (
	notifyLineAdded notificationKind = iota
	notifyLineRemoved
	notifyLineChanged
	notifyActiveLineChanged
	notifyTransferFailed
	notifyRegistrationFailed
)

type notification struct {
	kind notificationKind
	line Line
	id   string
	err  error
}

func (n notification) deliver(s Sink) {
	switch n.kind {
	case notifyLineAdded:
		s.OnLineAdded(n.line)
	case notifyLineRemoved:
		s.OnLineRemoved(n.id)
	case notifyLineChanged:
		s.OnLineChanged(n.line)
	case notifyActiveLineChanged:
		s.OnActiveLineChanged(n.id)
	case notifyTransferFailed:
		if ts, ok := s.(TransferFailureSink); ok {
			ts.OnTransferFailed(n.id, n.err)
		}
	case notifyRegistrationFailed:
		if rs, ok := s.(RegistrationSink); ok {
			rs.OnRegistrationFailed(n.err)
		}
	}
}

type subscription struct {
	sink Sink
}

// notifier очередь уведомлений с единственным доставщиком.
//
// Уведомления ставятся в очередь под мьютексом менеджера в порядке мутаций
// и доставляются после его освобождения. Если доставка уже идет (например,
// обработчик вызвал команду менеджера), новые уведомления доставит текущий
// доставщик после возврата из обработчика.
type notifier struct {
	mu       sync.Mutex
	subs     []*subscription
	queue    []notification
	draining bool
	logger   *slog.Logger
}

func newNotifier(logger *slog.Logger) *notifier {
	return &notifier{logger: logger}
}

func (n *notifier) subscribe(s Sink) func() {
	sub := &subscription{sink: s}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if i := slices.Index(n.subs, sub); i >= 0 {
				n.subs = slices.Delete(n.subs, i, i+1)
			}
		})
	}
}

func (n *notifier) push(items ...notification) {
	n.mu.Lock()
	n.queue = append(n.queue, items...)
	n.mu.Unlock()
}

func (n *notifier) drain() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.queue) > 0 {
		item := n.queue[0]
		n.queue = n.queue[1:]
		subs := slices.Clone(n.subs)
		n.mu.Unlock()

		for _, sub := range subs {
			n.deliver(sub.sink, item)
		}

		n.mu.Lock()
	}
	n.draining = false
	n.mu.Unlock()
}

func (n *notifier) deliver(s Sink, item notification) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("sink handler panic",
				slog.Any("panic", r),
				slog.String("lineID", item.id))
		}
	}()
	item.deliver(s)
}
