package line

import (
	"slices"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// entry запись реестра: снимок линии плюс принадлежащая ей сессия
type entry struct {
	line    Line
	session Session
	status  *fsm.FSM

	dispatch dispatchTable

	// pending линия ждет активации: входящая до Accept или
	// исходящая до confirmed, пока активна другая линия
	pending bool
	// settled Accept или Decline уже вызваны
	settled bool

	transfer *transfer
}

// registry упорядоченное отображение id -> entry.
// Не потокобезопасен, защищается мьютексом менеджера.
type registry struct {
	order []string
	items map[string]*entry
}

func newRegistry() *registry {
	return &registry{items: make(map[string]*entry)}
}

func (r *registry) add(e *entry) error {
	if _, ok := r.items[e.line.ID]; ok {
		return errors.Wrapf(ErrDuplicateID, "line %s", e.line.ID)
	}
	r.items[e.line.ID] = e
	r.order = append(r.order, e.line.ID)
	return nil
}

// remove удаляет запись. Повторное удаление не ошибка, возвращает false.
func (r *registry) remove(id string) (*entry, bool) {
	e, ok := r.items[id]
	if !ok {
		return nil, false
	}
	delete(r.items, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return e, true
}

func (r *registry) get(id string) (*entry, error) {
	e, ok := r.items[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "line %s", id)
	}
	return e, nil
}

func (r *registry) len() int {
	return len(r.order)
}

// first первая линия в порядке добавления
func (r *registry) first() (*entry, bool) {
	if len(r.order) == 0 {
		return nil, false
	}
	return r.items[r.order[0]], true
}

func (r *registry) each(fn func(e *entry)) {
	for _, id := range r.order {
		fn(r.items[id])
	}
}

// snapshot копия линий в порядке реестра
func (r *registry) snapshot() []Line {
	lines := make([]Line, 0, len(r.order))
	for _, id := range r.order {
		lines = append(lines, r.items[id].line)
	}
	return lines
}
