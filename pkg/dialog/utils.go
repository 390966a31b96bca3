package dialog

import (
	"github.com/emiago/sipgo/sip"
)

func GetFromTag(msg sip.Message) string {
	if from := msg.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			return tag
		}
	}

	return ""
}

func GetToTag(msg sip.Message) string {
	if to := msg.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			return tag
		}
	}

	return ""
}

func GetBranchID(msg sip.Message) string {
	if viaHop := msg.Via(); viaHop != nil {
		if branch, ok := viaHop.Params.Get("branch"); ok {
			return branch
		}
	}

	return ""
}

func setContent(msg sip.Message, contentType string, content []byte) {
	msg.SetBody(content)
	typeC := sip.ContentTypeHeader(contentType)
	msg.AppendHeader(&typeC)
}

type headerLister interface {
	GetHeaders(name string) []sip.Header
}

// recordRoutes набор маршрутов из Record-Route.
// Для UAC порядок обратный, для UAS прямой.
func recordRoutes(msg headerLister, reverse bool) []sip.Uri {
	hdrs := msg.GetHeaders("Record-Route")
	routes := make([]sip.Uri, 0, len(hdrs))
	for _, h := range hdrs {
		rr, ok := h.(*sip.RecordRouteHeader)
		if !ok {
			continue
		}
		routes = append(routes, rr.Address)
	}
	if reverse {
		for i, j := 0, len(routes)-1; i < j; i, j = i+1, j-1 {
			routes[i], routes[j] = routes[j], routes[i]
		}
	}
	return routes
}

// withTag добавляет тег к заголовку To ответа
func withTag(res *sip.Response, tag string) *sip.Response {
	if to := res.To(); to != nil && tag != "" {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		to.Params.Add("tag", tag)
	}
	return res
}
