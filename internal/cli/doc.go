// Package cli реализует инструмент командной строки Maestro.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Maestro API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления flows, runs, schedules и лимитами.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Maestro API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	flows, err := client.ListFlows()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: maestro run list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - flow: list, create, show, activate, deactivate
//   - run: list, trigger, show, history, transition, cancel, pause, resume
//   - schedule: list, create, show, delete, enable, disable
//   - limit: list, set, delete
//
// Каждая группа создаётся через фабричную функцию (NewFlowCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
