// Package api реализует HTTP API сервера.
//
// Trigger surface: POST /run/{id} — создать и запланировать run flow
// (201; 400 при параметрах, не проходящих схему).
//
// Management surface: /api/v1 — flows, runs (история, transition,
// cancel/pause/resume), schedules, лимиты конкурентности.
//
// Маппинг ошибок движка: Conflict и AlreadyTerminal — 409,
// veto правила — 422, остальное — 500.
package api
