// Package capability содержит модель возможностей RCS контакта.
//
// Capability — неизменяемый value object: набор булевых флагов сервисов
// (чат, передача файлов, видеошаринг, IP-звонки и т.д.), множество
// идентификаторов расширений и две временные метки обнаружения.
// Снимки создаются только через Builder и заменяются целиком при каждом
// обновлении; хранение снимков по контактам — ответственность пакета
// contacts.
package capability
