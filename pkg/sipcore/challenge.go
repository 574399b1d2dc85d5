package sipcore

import (
	"context"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// RequestBuilder собирает запрос для очередной попытки обмена.
// attempt нумеруется с нуля; на повторной попытке билдер обязан
// увеличить CSeq запроса.
type RequestBuilder func(attempt int) (*sip.Request, error)

// ChallengeRoundTrip выполняет обмен запрос/ответ с одной обязательной
// повторной попыткой при 407 Proxy Authentication Required.
//
// При 407: challenge читается из Proxy-Authenticate, по учетным данным
// вычисляется digest ответ, билдер пересобирает запрос с увеличенным
// CSeq, к нему добавляется Proxy-Authorization и запрос уходит еще раз.
// Больше одного раунда аутентификации не выполняется; второй 407 подряд
// возвращается вызывающему как финальный результат.
func ChallengeRoundTrip(ctx context.Context, tr Transport, auth AuthConfig, log Logger, build RequestBuilder) (TransactionResult, error) {
	var authorization string

	for attempt := 0; ; attempt++ {
		req, err := build(attempt)
		if err != nil {
			return TransactionResult{}, err
		}
		if authorization != "" {
			req.AppendHeader(sip.NewHeader("Proxy-Authorization", authorization))
		}

		res, err := tr.SendAndAwait(ctx, req)
		if err != nil {
			return res, err
		}
		if res.Timeout || res.StatusCode != StatusProxyAuthRequired || attempt >= 1 {
			return res, nil
		}
		if !auth.Enabled() {
			log.Warn("получен 407, но учетные данные не настроены",
				F("method", string(req.Method)))
			return res, nil
		}

		authorization, err = answerChallenge(req, res.Response, auth)
		if err != nil {
			return res, err
		}
		log.Debug("повтор запроса с учетными данными",
			F("method", string(req.Method)),
			F("attempt", attempt+1))
	}
}

// answerChallenge вычисляет значение Proxy-Authorization по challenge из 407
func answerChallenge(req *sip.Request, res *sip.Response, auth AuthConfig) (string, error) {
	if res == nil {
		return "", NewProtocolError("AUTH_NO_RESPONSE", "407 без тела ответа", nil)
	}
	hdr := res.GetHeader("Proxy-Authenticate")
	if hdr == nil {
		return "", NewProtocolError("AUTH_NO_CHALLENGE", "407 без Proxy-Authenticate", nil)
	}

	chal, err := digest.ParseChallenge(hdr.Value())
	if err != nil {
		return "", NewProtocolError("AUTH_BAD_CHALLENGE", "не удалось разобрать challenge", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   string(req.Method),
		URI:      req.Recipient.String(),
		Username: auth.Username,
		Password: auth.Password,
	})
	if err != nil {
		return "", NewProtocolError("AUTH_DIGEST", "не удалось вычислить digest", err)
	}
	return cred.String(), nil
}
