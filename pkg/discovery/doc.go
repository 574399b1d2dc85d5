// Package discovery реализует обнаружение возможностей RCS контактов.
//
// Два протокола обнаружения:
//   - OPTIONS: обмен SIP OPTIONS с feature тегами и SDP (основной путь)
//   - anonymous fetch: одноразовый SUBSCRIBE presence с NOTIFY,
//     несущим PIDF документ (путь для контактов, поддерживающих
//     обнаружение через presence)
//
// Поверх протоколов работают движок периодического опроса (polling) и
// фасад Service, владеющий фоновыми очередями, пулом OPTIONS воркеров и
// рукопожатием синхронизации адресной книги.
package discovery
