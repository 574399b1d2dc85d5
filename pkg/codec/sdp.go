package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// Направления медиапотока в атрибутах SDP
const (
	DirectionSendRecv = "sendrecv"
	DirectionSendOnly = "sendonly"
	DirectionRecvOnly = "recvonly"
	DirectionInactive = "inactive"
)

// ParseDescription разбирает тело SDP
func ParseDescription(raw []byte) (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("не удалось разобрать SDP: %w", err)
	}
	return desc, nil
}

// FindMedia возвращает первое описание медиа заданного типа (audio/video)
func FindMedia(desc *sdp.SessionDescription, media string) *sdp.MediaDescription {
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == media {
			return md
		}
	}
	return nil
}

// MediaDirection возвращает направление медиапотока из атрибутов.
// При отсутствии явного атрибута по умолчанию sendrecv.
func MediaDirection(md *sdp.MediaDescription) string {
	for _, attr := range md.Attributes {
		switch attr.Key {
		case DirectionSendOnly, DirectionRecvOnly, DirectionInactive, DirectionSendRecv:
			return attr.Key
		}
	}
	return DirectionSendRecv
}

// SessionDirection возвращает направление первого аудио медиа сессии
func SessionDirection(desc *sdp.SessionDescription) string {
	if md := FindMedia(desc, "audio"); md != nil {
		return MediaDirection(md)
	}
	return DirectionSendRecv
}

// ExtractCodecs собирает список кодеков из описания медиа.
//
// Для каждого формата из m= строки читаются rtpmap, fmtp и framesize
// атрибуты. Формат без rtpmap пропускается (статические payload типы
// внешние соглашения не описывают имя — для целей согласования такой
// формат бесполезен).
func ExtractCodecs(md *sdp.MediaDescription) []Codec {
	if md == nil {
		return nil
	}
	var codecs []Codec
	for _, format := range md.MediaName.Formats {
		pt, err := strconv.Atoi(format)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		c := Codec{PayloadType: uint8(pt)}
		found := false
		for _, attr := range md.Attributes {
			switch attr.Key {
			case "rtpmap":
				name, clock, ok := parseRtpmap(attr.Value, format)
				if ok {
					c.Encoding = name
					c.ClockRate = clock
					found = true
				}
			case "fmtp":
				if params, ok := parseFormatAttr(attr.Value, format); ok {
					c.Parameters = params
				}
			case "framesize":
				if size, ok := parseFormatAttr(attr.Value, format); ok {
					c.Width, c.Height = parseFrameSize(size)
				}
			}
		}
		if found {
			codecs = append(codecs, c)
		}
	}
	return codecs
}

// parseRtpmap разбирает "96 H264/90000" для заданного payload типа
func parseRtpmap(value, format string) (string, int, bool) {
	rest, ok := parseFormatAttr(value, format)
	if !ok {
		return "", 0, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		return "", 0, false
	}
	clock := 0
	if len(parts) > 1 {
		clock, _ = strconv.Atoi(parts[1])
	}
	return parts[0], clock, true
}

// parseFormatAttr отделяет payload тип от остатка значения атрибута
// вида "<pt> <rest>"; ok=false если атрибут относится к другому формату
func parseFormatAttr(value, format string) (string, bool) {
	fields := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(fields) != 2 || fields[0] != format {
		return "", false
	}
	return strings.TrimSpace(fields[1]), true
}

// parseFrameSize разбирает "320-240" в ширину и высоту
func parseFrameSize(value string) (int, int) {
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, _ := strconv.Atoi(parts[0])
	h, _ := strconv.Atoi(parts[1])
	return w, h
}

// RemoteEndpoint возвращает адрес и порт медиапотока из описания сессии.
// Адрес берется из c= строки медиа, при ее отсутствии — из сессионной.
func RemoteEndpoint(desc *sdp.SessionDescription, media string) (string, int, bool) {
	md := FindMedia(desc, media)
	if md == nil {
		return "", 0, false
	}
	address := ""
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		address = md.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		address = desc.ConnectionInformation.Address.Address
	}
	if address == "" || md.MediaName.Port.Value == 0 {
		return "", 0, false
	}
	return address, md.MediaName.Port.Value, true
}

// MediaSpec параметры одного медиапотока для построения SDP
type MediaSpec struct {
	Media     string // audio или video
	Port      int
	Codecs    []Codec
	Direction string // пустое = без явного атрибута направления
}

// BuildDescription строит тело SDP с заданными медиапотоками.
// Потоки без кодеков пропускаются.
func BuildDescription(address string, specs ...MediaSpec) ([]byte, error) {
	now := uint64(time.Now().Unix())
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: address,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: address},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
	}

	for _, spec := range specs {
		if len(spec.Codecs) == 0 {
			continue
		}
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:  spec.Media,
				Port:   sdp.RangedPort{Value: spec.Port},
				Protos: []string{"RTP", "AVP"},
			},
		}
		for _, c := range spec.Codecs {
			format := strconv.Itoa(int(c.PayloadType))
			md.MediaName.Formats = append(md.MediaName.Formats, format)
			rtpmap := fmt.Sprintf("%s %s/%d", format, c.Encoding, c.ClockRate)
			md.Attributes = append(md.Attributes, sdp.Attribute{Key: "rtpmap", Value: rtpmap})
			if c.Parameters != "" {
				md.Attributes = append(md.Attributes,
					sdp.Attribute{Key: "fmtp", Value: format + " " + c.Parameters})
			}
			if c.Width != 0 && c.Height != 0 {
				md.Attributes = append(md.Attributes,
					sdp.Attribute{Key: "framesize", Value: fmt.Sprintf("%s %d-%d", format, c.Width, c.Height)})
			}
		}
		if spec.Direction != "" {
			md.Attributes = append(md.Attributes, sdp.Attribute{Key: spec.Direction})
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, md)
	}

	return desc.Marshal()
}
