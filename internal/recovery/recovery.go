// Package recovery rebuilds the in-memory timer set from the store at
// startup. It runs once, before the transport starts accepting intake, so
// every pending row has exactly one live timer by the time new reminders
// can arrive.
package recovery

import (
	"context"
	"fmt"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/schedule"
	"remindbot/pkg/logx"
)

// Store is the slice of the reminder store recovery needs.
type Store interface {
	LoadPending(ctx context.Context) ([]reminder.Reminder, error)
}

// Scheduler registers one-shot timers.
type Scheduler interface {
	Schedule(fireAt time.Time, p reminder.Payload) schedule.TimerID
}

// Run re-enqueues every pending reminder in store order (fire time, then id).
// Past-due rows are scheduled as-is; the timer set fires them immediately.
// A store failure is returned to the caller and must abort startup: without
// the pending set the process cannot know what it owes.
func Run(ctx context.Context, store Store, sched Scheduler, log logx.Logger) (int, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	rows, err := store.LoadPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("recovery: %w", err)
	}

	now := time.Now()
	overdue := 0
	for _, r := range rows {
		if r.FireAt.Before(now) {
			overdue++
		}
		sched.Schedule(r.FireAt, r.Payload())
	}
	log.Info("recovery complete",
		logx.Int("pending", len(rows)),
		logx.Int("overdue", overdue))
	return len(rows), nil
}
