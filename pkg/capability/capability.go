package capability

import (
	"sort"
	"strings"
)

// TimestampInvalid сентинел для "запрос/ответ никогда не выполнялся"
const TimestampInvalid int64 = -1

// Capability представляет неизменяемый снимок возможностей удаленного контакта.
//
// Снимок строится только через Builder и после создания никогда не мутирует:
// при каждом обновлении возможностей контакта хранилище заменяет снимок целиком.
// Временные метки (когда был отправлен последний запрос и получен последний
// ответ) входят в снимок, но исключены из сравнения на равенство — два набора
// возможностей равны, если совпадают все флаги и расширения, независимо от
// того, когда они были получены.
type Capability struct {
	imageSharing            bool
	videoSharing            bool
	ipVoiceCall             bool
	ipVideoCall             bool
	imSession               bool
	fileTransferMSRP        bool
	fileTransferHTTP        bool
	fileTransferThumbnail   bool
	fileTransferStoreFwd    bool
	groupChatStoreFwd       bool
	csVideo                 bool
	presenceDiscovery       bool
	socialPresence          bool
	geolocationPush         bool
	sipAutomata             bool
	extensions              map[string]struct{}
	timestampOfLastRequest  int64
	timestampOfLastResponse int64
}

// Default возвращает набор возможностей по умолчанию: все флаги false,
// без расширений. Представляет "информации нет" или "контакт подтвержденно
// не RCS". Сравнивается всегда по значению, никогда по идентичности.
func Default() Capability {
	return Capability{
		timestampOfLastRequest:  TimestampInvalid,
		timestampOfLastResponse: TimestampInvalid,
	}
}

func (c Capability) ImageSharing() bool          { return c.imageSharing }
func (c Capability) VideoSharing() bool          { return c.videoSharing }
func (c Capability) IPVoiceCall() bool           { return c.ipVoiceCall }
func (c Capability) IPVideoCall() bool           { return c.ipVideoCall }
func (c Capability) IMSession() bool             { return c.imSession }
func (c Capability) FileTransferMSRP() bool      { return c.fileTransferMSRP }
func (c Capability) FileTransferHTTP() bool      { return c.fileTransferHTTP }
func (c Capability) FileTransferThumbnail() bool { return c.fileTransferThumbnail }
func (c Capability) FileTransferStoreFwd() bool  { return c.fileTransferStoreFwd }
func (c Capability) GroupChatStoreFwd() bool     { return c.groupChatStoreFwd }
func (c Capability) CSVideo() bool               { return c.csVideo }
func (c Capability) PresenceDiscovery() bool     { return c.presenceDiscovery }
func (c Capability) SocialPresence() bool        { return c.socialPresence }
func (c Capability) GeolocationPush() bool       { return c.geolocationPush }

// SIPAutomata возвращает true, если контакт объявил себя автоматом
// (маркер "automata" из RFC 3840: бот или сервер, а не живой пользователь)
func (c Capability) SIPAutomata() bool { return c.sipAutomata }

// Extensions возвращает отсортированный список идентификаторов расширений
// (service ID). Порядок вставки не важен, дубликаты схлопнуты.
func (c Capability) Extensions() []string {
	if len(c.extensions) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.extensions))
	for ext := range c.extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// HasExtension проверяет наличие расширения
func (c Capability) HasExtension(id string) bool {
	_, ok := c.extensions[id]
	return ok
}

// TimestampOfLastRequest возвращает время последнего запроса возможностей
// в миллисекундах epoch, либо TimestampInvalid если запросов не было
func (c Capability) TimestampOfLastRequest() int64 { return c.timestampOfLastRequest }

// TimestampOfLastResponse возвращает время последнего ответа
// в миллисекундах epoch, либо TimestampInvalid если ответов не было
func (c Capability) TimestampOfLastResponse() int64 { return c.timestampOfLastResponse }

// Equal сравнивает два набора возможностей.
// Временные метки в сравнении не участвуют: равенство определяется
// только флагами и множеством расширений.
func (c Capability) Equal(other Capability) bool {
	if c.imageSharing != other.imageSharing ||
		c.videoSharing != other.videoSharing ||
		c.ipVoiceCall != other.ipVoiceCall ||
		c.ipVideoCall != other.ipVideoCall ||
		c.imSession != other.imSession ||
		c.fileTransferMSRP != other.fileTransferMSRP ||
		c.fileTransferHTTP != other.fileTransferHTTP ||
		c.fileTransferThumbnail != other.fileTransferThumbnail ||
		c.fileTransferStoreFwd != other.fileTransferStoreFwd ||
		c.groupChatStoreFwd != other.groupChatStoreFwd ||
		c.csVideo != other.csVideo ||
		c.presenceDiscovery != other.presenceDiscovery ||
		c.socialPresence != other.socialPresence ||
		c.geolocationPush != other.geolocationPush ||
		c.sipAutomata != other.sipAutomata {
		return false
	}
	if len(c.extensions) != len(other.extensions) {
		return false
	}
	for ext := range c.extensions {
		if _, ok := other.extensions[ext]; !ok {
			return false
		}
	}
	return true
}

// String возвращает компактное представление для логирования
func (c Capability) String() string {
	var sb strings.Builder
	sb.WriteString("Capability{")
	flags := []struct {
		name string
		set  bool
	}{
		{"image_share", c.imageSharing},
		{"video_share", c.videoSharing},
		{"ip_voice_call", c.ipVoiceCall},
		{"ip_video_call", c.ipVideoCall},
		{"im_session", c.imSession},
		{"ft_msrp", c.fileTransferMSRP},
		{"ft_http", c.fileTransferHTTP},
		{"ft_thumbnail", c.fileTransferThumbnail},
		{"ft_store_fwd", c.fileTransferStoreFwd},
		{"gc_store_fwd", c.groupChatStoreFwd},
		{"cs_video", c.csVideo},
		{"presence_discovery", c.presenceDiscovery},
		{"social_presence", c.socialPresence},
		{"geoloc_push", c.geolocationPush},
		{"automata", c.sipAutomata},
	}
	first := true
	for _, f := range flags {
		if !f.set {
			continue
		}
		if !first {
			sb.WriteString(",")
		}
		sb.WriteString(f.name)
		first = false
	}
	if len(c.extensions) > 0 {
		if !first {
			sb.WriteString(",")
		}
		sb.WriteString("ext=")
		sb.WriteString(strings.Join(c.Extensions(), "+"))
	}
	sb.WriteString("}")
	return sb.String()
}

// Builder конструирует снимок Capability.
//
// Поддерживает два сценария:
//   - NewBuilder: все флаги false, пустое множество расширений
//   - NewBuilderFrom: копирование существующего снимка с последующим
//     выборочным переопределением полей
//
// Семантика слияния остается на вызывающей стороне: модель не имеет
// операции merge, вызывающий читает старые значения через копирующий
// конструктор и выставляет новые.
type Builder struct {
	c Capability
}

// NewBuilder создает builder с набором по умолчанию
func NewBuilder() *Builder {
	return &Builder{c: Default()}
}

// NewBuilderFrom создает builder, скопировав существующий снимок
func NewBuilderFrom(src Capability) *Builder {
	b := &Builder{c: src}
	if src.extensions != nil {
		b.c.extensions = make(map[string]struct{}, len(src.extensions))
		for ext := range src.extensions {
			b.c.extensions[ext] = struct{}{}
		}
	}
	return b
}

func (b *Builder) ImageSharing(v bool) *Builder          { b.c.imageSharing = v; return b }
func (b *Builder) VideoSharing(v bool) *Builder          { b.c.videoSharing = v; return b }
func (b *Builder) IPVoiceCall(v bool) *Builder           { b.c.ipVoiceCall = v; return b }
func (b *Builder) IPVideoCall(v bool) *Builder           { b.c.ipVideoCall = v; return b }
func (b *Builder) IMSession(v bool) *Builder             { b.c.imSession = v; return b }
func (b *Builder) FileTransferMSRP(v bool) *Builder      { b.c.fileTransferMSRP = v; return b }
func (b *Builder) FileTransferHTTP(v bool) *Builder      { b.c.fileTransferHTTP = v; return b }
func (b *Builder) FileTransferThumbnail(v bool) *Builder { b.c.fileTransferThumbnail = v; return b }
func (b *Builder) FileTransferStoreFwd(v bool) *Builder  { b.c.fileTransferStoreFwd = v; return b }
func (b *Builder) GroupChatStoreFwd(v bool) *Builder     { b.c.groupChatStoreFwd = v; return b }
func (b *Builder) CSVideo(v bool) *Builder               { b.c.csVideo = v; return b }
func (b *Builder) PresenceDiscovery(v bool) *Builder     { b.c.presenceDiscovery = v; return b }
func (b *Builder) SocialPresence(v bool) *Builder        { b.c.socialPresence = v; return b }
func (b *Builder) GeolocationPush(v bool) *Builder       { b.c.geolocationPush = v; return b }
func (b *Builder) SIPAutomata(v bool) *Builder           { b.c.sipAutomata = v; return b }

// AddExtension добавляет идентификатор расширения (дубликаты схлопываются)
func (b *Builder) AddExtension(id string) *Builder {
	if b.c.extensions == nil {
		b.c.extensions = make(map[string]struct{})
	}
	b.c.extensions[id] = struct{}{}
	return b
}

// Extensions заменяет множество расширений целиком
func (b *Builder) Extensions(ids []string) *Builder {
	b.c.extensions = nil
	for _, id := range ids {
		b.AddExtension(id)
	}
	return b
}

// TimestampOfLastRequest выставляет время последнего запроса (мс epoch)
func (b *Builder) TimestampOfLastRequest(ts int64) *Builder {
	b.c.timestampOfLastRequest = ts
	return b
}

// TimestampOfLastResponse выставляет время последнего ответа (мс epoch)
func (b *Builder) TimestampOfLastResponse(ts int64) *Builder {
	b.c.timestampOfLastResponse = ts
	return b
}

// Build возвращает неизменяемый снимок
func (b *Builder) Build() Capability {
	out := b.c
	if b.c.extensions != nil {
		out.extensions = make(map[string]struct{}, len(b.c.extensions))
		for ext := range b.c.extensions {
			out.extensions[ext] = struct{}{}
		}
	}
	return out
}
