// Package sipcore содержит границу с SIP транспортным слоем и общие
// примитивы сигнализации.
//
// Сам транспорт (парсинг сообщений, транзакции, таймеры RFC 3261) —
// внешний коллаборатор; ядро видит его через интерфейс Transport с одной
// блокирующей операцией "отправить запрос и дождаться финального ответа
// или таймаута". Сообщения выражены типами github.com/emiago/sipgo/sip.
//
// Здесь же живет общий примитив challenge/response аутентификации:
// паттерн "получили 407 — прочитали challenge, увеличили CSeq, пересобрали
// запрос с учетными данными, отправили еще раз" повторяется во всех
// протоколах системы (OPTIONS, SUBSCRIBE, INVITE, re-INVITE) и реализован
// один раз.
package sipcore
