package sipcore

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// PeerURI строит SIP URI контакта: идентичность с '@' разбирается как URI,
// голый номер достраивается доменом сети
func PeerURI(peer, domain string) (sip.Uri, error) {
	var uri sip.Uri
	if strings.Contains(peer, "@") {
		raw := peer
		if !strings.HasPrefix(raw, "sip:") && !strings.HasPrefix(raw, "sips:") {
			raw = "sip:" + raw
		}
		if err := sip.ParseUri(raw, &uri); err != nil {
			return sip.Uri{}, NewProtocolError("BAD_PEER", "неразбираемая идентичность контакта", err)
		}
		return uri, nil
	}
	return sip.Uri{Scheme: "sip", User: peer, Host: domain}, nil
}
