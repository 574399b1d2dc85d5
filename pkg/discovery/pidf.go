package discovery

import (
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/arzzra/rcs_core/pkg/capability"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// Идентификаторы сервисов в tuple элементах PIDF документа
const (
	ServiceIDVideoShare   = "org.gsma.videoshare"
	ServiceIDImageShare   = "org.gsma.imageshare"
	ServiceIDFileTransfer = "org.openmobilealliance:File-Transfer"
	ServiceIDIMSession    = "org.openmobilealliance:IM-session"
	ServiceIDCSVideo      = "org.3gpp.cs-videotelephony"
)

// pidfBasicOpen значение basic статуса "контакт доступен"
const pidfBasicOpen = "open"

// pidfDocument PIDF документ присутствия (RFC 3863 + OMA расширения).
// encoding/xml сопоставляет локальные имена элементов независимо от
// префиксов пространств имен.
type pidfDocument struct {
	XMLName xml.Name    `xml:"presence"`
	Entity  string      `xml:"entity,attr"`
	Tuples  []pidfTuple `xml:"tuple"`
}

type pidfTuple struct {
	ID     string `xml:"id,attr"`
	Status struct {
		Basic string `xml:"basic"`
	} `xml:"status"`
	Service struct {
		ServiceID string `xml:"service-id"`
	} `xml:"service-description"`
}

// parsePIDF разбирает тело NOTIFY
func parsePIDF(body []byte) (*pidfDocument, error) {
	doc := &pidfDocument{}
	if err := xml.Unmarshal(body, doc); err != nil {
		return nil, sipcore.NewProtocolError("PIDF_MALFORMED", "не удалось разобрать PIDF документ", err)
	}
	return doc, nil
}

// capabilityFromPIDF строит Capability из PIDF документа.
//
// Каждый tuple с basic статусом open включает ровно один флаг по своему
// service-id; любой другой статус оставляет флаг выключенным. Флаг
// PresenceDiscovery всегда true: сам факт получения PIDF доказывает, что
// контакт поддерживает обнаружение через presence.
func capabilityFromPIDF(doc *pidfDocument) capability.Capability {
	b := capability.NewBuilder().PresenceDiscovery(true)

	for _, tuple := range doc.Tuples {
		if !strings.EqualFold(tuple.Status.Basic, pidfBasicOpen) {
			continue
		}
		switch tuple.Service.ServiceID {
		case ServiceIDVideoShare:
			b.VideoSharing(true)
		case ServiceIDImageShare:
			b.ImageSharing(true)
		case ServiceIDFileTransfer:
			b.FileTransferMSRP(true)
		case ServiceIDIMSession:
			b.IMSession(true)
		case ServiceIDCSVideo:
			b.CSVideo(true)
		}
	}
	return b.Build()
}

var phoneNumberRe = regexp.MustCompile(`^\+?[0-9]{3,15}$`)

// peerFromEntity выделяет телефонную идентичность контакта из entity URI
// PIDF документа. ok=false если URI не сводится к номеру телефона —
// такое уведомление отбрасывается без изменения состояния.
func peerFromEntity(entity string) (string, bool) {
	s := entity
	for _, scheme := range []string{"pres:", "sip:", "sips:", "tel:"} {
		if strings.HasPrefix(s, scheme) {
			s = strings.TrimPrefix(s, scheme)
			break
		}
	}
	if idx := strings.IndexByte(s, '@'); idx >= 0 {
		s = s[:idx]
	}
	if !phoneNumberRe.MatchString(s) {
		return "", false
	}
	return s, true
}
