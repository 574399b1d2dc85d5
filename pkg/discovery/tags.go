package discovery

import (
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/capability"
)

// Feature теги RCS, передаваемые в Contact заголовке OPTIONS
const (
	TagChat                     = `+g.oma.sip-im`
	TagFileTransfer             = `+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.ft"`
	TagFileTransferHTTP         = `+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.fthttp"`
	TagFileTransferThumbnail    = `+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.ftthumb"`
	TagFileTransferStoreForward = `+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.ftstandfw"`
	TagGroupChatStoreForward    = `+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.fullsfgroupchat"`
	TagImageSharing             = `+g.3gpp.app_ref="urn%3Aurn-7%3A3gpp-application.ims.iari.gsma-is"`
	TagVideoSharing             = `+g.3gpp.cs-video`
	TagIPVoiceCall              = `+g.gsma.rcs.ipcall`
	TagIPVideoCall              = `+g.gsma.rcs.ipvideocall`
	TagCSVideo                  = `+g.gsma.rcs.csvideo`
	TagPresenceDiscovery        = `+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcse.dp"`
	TagSocialPresence           = `+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcse.sp"`
	TagGeolocationPush          = `+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.geopush"`

	// TagAutomata маркер RFC 3840: отвечающая сторона — автомат, не человек
	TagAutomata = `automata`

	// tagExtensionPrefix префикс тегов расширений
	tagExtensionPrefix = `+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.ext.`
)

// tagFlags соответствие тег → установка флага в Builder
var tagFlags = map[string]func(*capability.Builder){
	TagChat:                     func(b *capability.Builder) { b.IMSession(true) },
	TagFileTransfer:             func(b *capability.Builder) { b.FileTransferMSRP(true) },
	TagFileTransferHTTP:         func(b *capability.Builder) { b.FileTransferHTTP(true) },
	TagFileTransferThumbnail:    func(b *capability.Builder) { b.FileTransferThumbnail(true) },
	TagFileTransferStoreForward: func(b *capability.Builder) { b.FileTransferStoreFwd(true) },
	TagGroupChatStoreForward:    func(b *capability.Builder) { b.GroupChatStoreFwd(true) },
	TagImageSharing:             func(b *capability.Builder) { b.ImageSharing(true) },
	TagVideoSharing:             func(b *capability.Builder) { b.VideoSharing(true) },
	TagIPVoiceCall:              func(b *capability.Builder) { b.IPVoiceCall(true) },
	TagIPVideoCall:              func(b *capability.Builder) { b.IPVideoCall(true) },
	TagCSVideo:                  func(b *capability.Builder) { b.CSVideo(true) },
	TagPresenceDiscovery:        func(b *capability.Builder) { b.PresenceDiscovery(true) },
	TagSocialPresence:           func(b *capability.Builder) { b.SocialPresence(true) },
	TagGeolocationPush:          func(b *capability.Builder) { b.GeolocationPush(true) },
	TagAutomata:                 func(b *capability.Builder) { b.SIPAutomata(true) },
}

// buildFeatureTags собирает список тегов для исходящего OPTIONS.
//
// richcall=true только при активной звонковой сессии с этим контактом —
// от этого зависит объявление тегов медиашаринга. Теги видеошаринга
// подавляются при сети хуже 3G.
func buildFeatureTags(cfg Config, richcall bool, network NetworkAccess) []string {
	var tags []string
	add := func(enabled bool, tag string) {
		if enabled {
			tags = append(tags, tag)
		}
	}

	add(cfg.EnableChat, TagChat)
	add(cfg.EnableFileTransfer, TagFileTransfer)
	add(cfg.EnableFileTransferHTTP, TagFileTransferHTTP)
	add(cfg.EnableFileTransferThumbnail, TagFileTransferThumbnail)
	add(cfg.EnableFileTransferStoreForward, TagFileTransferStoreForward)
	add(cfg.EnableGroupChatStoreForward, TagGroupChatStoreForward)
	add(cfg.EnableIPVoiceCall, TagIPVoiceCall)
	add(cfg.EnableIPVideoCall, TagIPVideoCall)
	add(cfg.EnableCSVideo, TagCSVideo)
	add(cfg.EnablePresenceDiscovery, TagPresenceDiscovery)
	add(cfg.EnableSocialPresence, TagSocialPresence)
	add(cfg.EnableGeolocationPush, TagGeolocationPush)

	// Теги медиашаринга имеют смысл только в контексте активного звонка
	if richcall {
		add(cfg.EnableImageSharing, TagImageSharing)
		add(cfg.EnableVideoSharing && network.AtLeast3G(), TagVideoSharing)
	}

	if cfg.EnableExtensions {
		for _, ext := range cfg.Extensions {
			tags = append(tags, extensionTag(ext))
		}
	}
	return tags
}

// extensionTag строит тег расширения по его идентификатору
func extensionTag(id string) string {
	return tagExtensionPrefix + id + `"`
}

// parseExtensionTag выделяет идентификатор расширения из тега,
// ok=false если тег не является тегом расширения
func parseExtensionTag(tag string) (string, bool) {
	if !strings.HasPrefix(tag, tagExtensionPrefix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(tag, tagExtensionPrefix), `"`), true
}

// contactWithTags формирует значение Contact заголовка с feature тегами
func contactWithTags(uri sip.Uri, tags []string) string {
	var sb strings.Builder
	sb.WriteString("<")
	sb.WriteString(uri.String())
	sb.WriteString(">")
	for _, tag := range tags {
		sb.WriteString(";")
		sb.WriteString(tag)
	}
	return sb.String()
}

// capabilityFromTags восстанавливает Capability из feature тегов
// сообщения. Теги читаются из всех Contact и Accept-Contact заголовков.
func capabilityFromTags(msg interface {
	GetHeaders(name string) []sip.Header
}) *capability.Builder {
	b := capability.NewBuilder()
	for _, name := range []string{"Contact", "Accept-Contact"} {
		for _, hdr := range msg.GetHeaders(name) {
			applyTagString(b, hdr.Value())
		}
	}
	return b
}

// applyTagString применяет к Builder все известные теги из значения заголовка
func applyTagString(b *capability.Builder, value string) {
	for tag, set := range tagFlags {
		if strings.Contains(value, tag) {
			set(b)
		}
	}
	// Теги расширений
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if ext, ok := parseExtensionTag(part); ok {
			b.AddExtension(ext)
		}
	}
}
