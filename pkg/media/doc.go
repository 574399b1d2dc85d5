// Package media содержит минимальные медиа-пиры, с которыми сессия
// согласует кодеки: аудио/видео плееры поверх RTP транспорта.
//
// Ядро рассматривает рендеринг и воспроизведение как внешние
// коллабораторы; здесь реализован наименьший полезный вариант —
// упаковка кадров в RTP пакеты и отправка по UDP или DTLS,
// без кодирования и декодирования медиа.
package media
