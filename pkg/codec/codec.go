// Package codec содержит модель медиакодека и чистую функцию согласования
// кодека между локальным списком поддержки и предложением удаленной стороны.
package codec

import (
	"strings"
)

// Kind тип медиа, к которому относится кодек
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// Codec описание медиакодека.
//
// Нулевые значения полей (0 для чисел, "" для строк) трактуются как
// "не указано": при согласовании такое поле наследует значение из
// локально поддерживаемого кодека, а при сравнении работает как wildcard.
type Codec struct {
	// Encoding имя кодирования (PCMU, AMR, H264...), регистронезависимое
	Encoding string

	// PayloadType номер полезной нагрузки RTP; 0 = не указан
	PayloadType uint8

	// ClockRate частота дискретизации (аудио) или clock rate (видео); 0 = не указана
	ClockRate int

	// Parameters строка параметров fmtp
	Parameters string

	// Width, Height разрешение видео; 0 = любое
	Width  int
	Height int
}

// sameEncoding сравнивает имена кодирования без учета регистра
func sameEncoding(a, b Codec) bool {
	return strings.EqualFold(a.Encoding, b.Encoding)
}

// audioMatch предикат эквивалентности аудиокодеков:
// имя без учета регистра, параметры либо совпадают, либо хотя бы
// с одной стороны не указаны
func audioMatch(supported, proposed Codec) bool {
	if !sameEncoding(supported, proposed) {
		return false
	}
	if supported.Parameters == "" || proposed.Parameters == "" {
		return true
	}
	return supported.Parameters == proposed.Parameters
}

// videoMatch предикат эквивалентности видеокодеков:
// имя без учета регистра, разрешение совпадает либо с одной из сторон
// объявлен wildcard (0), для семейства H264 дополнительно сравнивается
// profile-level-id
func videoMatch(supported, proposed Codec) bool {
	if !sameEncoding(supported, proposed) {
		return false
	}
	if supported.Width != 0 && proposed.Width != 0 && supported.Width != proposed.Width {
		return false
	}
	if supported.Height != 0 && proposed.Height != 0 && supported.Height != proposed.Height {
		return false
	}
	if strings.EqualFold(supported.Encoding, "H264") {
		return h264ProfileMatch(supported.Parameters, proposed.Parameters)
	}
	return true
}

// h264ProfileMatch специализированное сравнение profile-level-id для H264.
// Отсутствие параметра с любой из сторон трактуется как совпадение.
func h264ProfileMatch(a, b string) bool {
	pa := extractFmtpValue(a, "profile-level-id")
	pb := extractFmtpValue(b, "profile-level-id")
	if pa == "" || pb == "" {
		return true
	}
	return strings.EqualFold(pa, pb)
}

// extractFmtpValue достает значение именованного параметра из строки fmtp
// вида "profile-level-id=42800D;packetization-mode=1"
func extractFmtpValue(params, name string) string {
	for _, part := range strings.Split(params, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && strings.EqualFold(kv[0], name) {
			return kv[1]
		}
	}
	return ""
}

// merge синтезирует итоговый кодек: имя берется из предложения удаленной
// стороны, остальные поля — из предложения, если указаны, иначе из
// локально поддерживаемого кодека
func merge(supported, proposed Codec) Codec {
	out := Codec{Encoding: proposed.Encoding}
	out.PayloadType = proposed.PayloadType
	if out.PayloadType == 0 {
		out.PayloadType = supported.PayloadType
	}
	out.ClockRate = proposed.ClockRate
	if out.ClockRate == 0 {
		out.ClockRate = supported.ClockRate
	}
	out.Parameters = proposed.Parameters
	if out.Parameters == "" {
		out.Parameters = supported.Parameters
	}
	out.Width = proposed.Width
	if out.Width == 0 {
		out.Width = supported.Width
	}
	out.Height = proposed.Height
	if out.Height == 0 {
		out.Height = supported.Height
	}
	return out
}

// negotiate выбирает ровно один кодек из предложенных.
//
// Локальный список упорядочен по предпочтению: чем больше индекс, тем
// выше предпочтение. Среди всех совпадений выбирается то, чей локальный
// кодек имеет наибольший ранг. Возвращает ok=false, если ни один
// предложенный кодек не совпал ни с одним поддерживаемым.
func negotiate(supported, proposed []Codec, match func(s, p Codec) bool) (Codec, bool) {
	bestRank := -1
	var best Codec

	for _, p := range proposed {
		for rank, s := range supported {
			if !match(s, p) {
				continue
			}
			if rank > bestRank {
				bestRank = rank
				best = merge(s, p)
			}
		}
	}
	if bestRank < 0 {
		return Codec{}, false
	}
	return best, true
}

// NegotiateAudio выбирает аудиокодек
func NegotiateAudio(supported, proposed []Codec) (Codec, bool) {
	return negotiate(supported, proposed, audioMatch)
}

// NegotiateVideo выбирает видеокодек
func NegotiateVideo(supported, proposed []Codec) (Codec, bool) {
	return negotiate(supported, proposed, videoMatch)
}
