// Package session реализует конечный автомат SIP сессии на примере
// IP звонка: исходящий и входящий INVITE, ранняя фаза с ringing,
// принятие/отклонение/таймаут/отмена, согласование кодеков, ACK, BYE
// и пере-согласование через re-INVITE (hold/resume, добавление и
// удаление видео).
//
// Вместо иерархии классов с переопределением поведения по направлению
// сессия — одна структура с тегом направления; немногочисленные
// различия (построение INVITE, роль в начальном SDP) ветвятся по тегу.
// Жизненный цикл управляется конечным автоматом looplab/fsm.
package session
