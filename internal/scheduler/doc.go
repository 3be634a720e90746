// Package scheduler реализует планировщик runs по расписанию.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at,
// создаёт run для каждого due schedule и проводит его через
// оркестрационный движок в SCHEDULED. Дальше run подхватывает worker.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, processSchedule)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: scheduleRepo,
//	    Flows:     flowRepo,
//	    Runs:      runStore,
//	    Engine:    eng,
//	    Publisher: publisher, // опционально
//	    Logger:    logger,
//	})
//
//	sched.Run(ctx, 10*time.Second)
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
package scheduler
