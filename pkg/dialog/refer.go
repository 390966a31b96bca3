package dialog

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
)

// Состояния подписки на исход REFER (RFC 3515).
// pending - REFER принят, NOTIFY еще не было;
// trying - получен NOTIFY с 100 Trying;
// proceeding - получен NOTIFY с 1xx;
// completed и failed - получен NOTIFY с финальным кодом.
const (
	ReferStatePending    = "pending"
	ReferStateTrying     = "trying"
	ReferStateProceeding = "proceeding"
	ReferStateCompleted  = "completed"
	ReferStateFailed     = "failed"
)

func newReferFSM() *fsm.FSM {
	return fsm.NewFSM(
		ReferStatePending,
		fsm.Events{
			{Name: "notify_100", Src: []string{ReferStatePending}, Dst: ReferStateTrying},
			{Name: "notify_1xx", Src: []string{ReferStatePending, ReferStateTrying, ReferStateProceeding}, Dst: ReferStateProceeding},
			{Name: "notify_success", Src: []string{ReferStatePending, ReferStateTrying, ReferStateProceeding}, Dst: ReferStateCompleted},
			{Name: "notify_failure", Src: []string{ReferStatePending, ReferStateTrying, ReferStateProceeding}, Dst: ReferStateFailed},
		},
		fsm.Callbacks{},
	)
}

// referSub отслеживает NOTIFY по отправленному нами REFER
type referSub struct {
	mu  sync.Mutex
	fsm *fsm.FSM
}

func newReferSub() *referSub {
	return &referSub{fsm: newReferFSM()}
}

// onNotify применяет код из sipfrag.
// Возвращает true, если код финальный и подписка перешла в completed/failed.
func (s *referSub) onNotify(code int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var event string
	switch {
	case code == 100:
		event = "notify_100"
	case code > 100 && code < 200:
		event = "notify_1xx"
	case code >= 200 && code < 300:
		event = "notify_success"
	case code >= 300:
		event = "notify_failure"
	default:
		return false
	}
	if !s.fsm.Can(event) {
		return false
	}
	_ = s.fsm.Event(context.Background(), event)
	return s.final()
}

func (s *referSub) state() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current()
}

func (s *referSub) final() bool {
	cur := s.fsm.Current()
	return cur == ReferStateCompleted || cur == ReferStateFailed
}

// parseSipfrag код и фраза статусной строки из тела NOTIFY (message/sipfrag),
// например "SIP/2.0 200 OK". Код 0, если строку разобрать не удалось.
func parseSipfrag(body []byte) (int, string) {
	if len(body) == 0 {
		return 0, ""
	}
	firstLine, _, _ := bytes.Cut(body, []byte("\n"))
	parts := strings.Fields(string(firstLine))
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "SIP/") {
		return 0, ""
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, ""
	}
	return code, strings.Join(parts[2:], " ")
}

func createReferByHeader(contact sip.Uri) sip.Header {
	builder := strings.Builder{}
	builder.WriteByte('<')
	builder.WriteString(contact.String())
	builder.WriteByte('>')

	return sip.NewHeader("Referred-By", builder.String())
}

func createReferToHeader(target sip.Uri) sip.Header {
	builder := strings.Builder{}
	builder.WriteByte('<')
	builder.WriteString(target.String())
	builder.WriteByte('>')

	return sip.NewHeader("Refer-To", builder.String())
}
