package dialog

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

const contentTypeSDP = "application/sdp"

// Направления медиа потока (RFC 3264)
const (
	sdpSendRecv = "sendrecv"
	sdpSendOnly = "sendonly"
	sdpRecvOnly = "recvonly"
	sdpInactive = "inactive"
)

const dtmfPayloadType = 101

// sdpParams параметры локального описания сессии
type sdpParams struct {
	Host      string
	Port      int
	SessionID uint64
	Version   uint64
	Direction string
}

// buildSDP формирует аудио-описание с PCMU, PCMA и telephone-event
func buildSDP(p sdpParams) ([]byte, error) {
	if p.Direction == "" {
		p.Direction = sdpSendRecv
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      p.SessionID,
			SessionVersion: p.Version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.Host,
		},
		SessionName: "softphone",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: p.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: p.Port},
			Protos: []string{"RTP", "AVP"},
		},
	}
	media.WithCodec(0, "PCMU", 8000, 0, "")
	media.WithCodec(8, "PCMA", 8000, 0, "")
	media.WithCodec(dtmfPayloadType, "telephone-event", 8000, 0, "0-15")
	media.WithPropertyAttribute(p.Direction)
	desc.MediaDescriptions = []*sdp.MediaDescription{media}

	body, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования SDP: %w", err)
	}
	return body, nil
}

// mediaDirection направление первого аудио потока описания.
// Без явного атрибута поток считается sendrecv.
func mediaDirection(body []byte) (string, error) {
	if len(body) == 0 {
		return sdpSendRecv, nil
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return "", fmt.Errorf("ошибка разбора SDP: %w", err)
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if dir, ok := directionOf(md.Attributes); ok {
			return dir, nil
		}
		break
	}
	if dir, ok := directionOf(desc.Attributes); ok {
		return dir, nil
	}
	return sdpSendRecv, nil
}

func directionOf(attrs []sdp.Attribute) (string, bool) {
	for _, a := range attrs {
		switch a.Key {
		case sdpSendRecv, sdpSendOnly, sdpRecvOnly, sdpInactive:
			return a.Key, true
		}
	}
	return "", false
}

// answerDirection направление ответа на предложение remote.
// localHold - локальная сторона держит вызов на удержании.
func answerDirection(remote string, localHold bool) string {
	switch remote {
	case sdpSendOnly:
		if localHold {
			return sdpInactive
		}
		return sdpRecvOnly
	case sdpRecvOnly:
		return sdpSendOnly
	case sdpInactive:
		return sdpInactive
	default:
		if localHold {
			return sdpSendOnly
		}
		return sdpSendRecv
	}
}
