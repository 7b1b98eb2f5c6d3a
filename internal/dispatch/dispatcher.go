// Package dispatch bridges fired timers to delivery.
//
// Ordering is send-then-mark: the transport send happens before the durable
// sent flip. A crash between the two re-delivers the reminder after the next
// recovery pass, so delivery is at-least-once, never silently lost.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// Store is the slice of the reminder store the dispatcher needs.
type Store interface {
	MarkSent(ctx context.Context, id int64) error
}

type Dispatcher struct {
	sender transport.Sender
	store  Store
	log    logx.Logger
	sup    *rtsup.Supervisor
}

func New(sender transport.Sender, store Store, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{sender: sender, store: store, log: log}
}

// Start prepares the dispatcher to run deliveries on supervised goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	d.sup = rtsup.New(ctx, rtsup.WithLogger(d.log))
}

// Stop lets in-flight deliveries finish, bounded by ctx; on timeout the
// remaining sends are cancelled and their rows stay pending for the next
// recovery pass.
func (d *Dispatcher) Stop(ctx context.Context) bool {
	if d.sup == nil {
		return true
	}
	return d.sup.Drain(ctx)
}

// Dispatch satisfies schedule.FireFunc. Each firing gets its own goroutine
// so a slow or hung send cannot delay later reminders; the timer loop only
// pays the cost of the spawn.
func (d *Dispatcher) Dispatch(ctx context.Context, p reminder.Payload) {
	if d.sup == nil {
		// Not started; deliver inline (tests, synchronous callers).
		d.deliver(ctx, p)
		return
	}
	d.sup.Go0(fmt.Sprintf("dispatch.reminder_%d", p.ID), func(c context.Context) {
		d.deliver(c, p)
	})
}

func (d *Dispatcher) deliver(ctx context.Context, p reminder.Payload) {
	start := time.Now()
	if err := d.sender.SendText(ctx, p.ChatID, p.Text); err != nil {
		// No retry here: the row stays pending and the next recovery pass
		// re-attempts it. Known gap, kept deliberately.
		d.log.Error("delivery failed; reminder stays pending until restart",
			logx.Int64("reminder_id", p.ID),
			logx.Int64("chat_id", p.ChatID),
			logx.Err(err))
		return
	}
	if err := d.store.MarkSent(ctx, p.ID); err != nil {
		// Sent but not recorded: the reminder will be delivered again after
		// a restart. Surface loudly, nothing else to do locally.
		d.log.Error("sent but mark-sent failed; duplicate delivery possible after restart",
			logx.Int64("reminder_id", p.ID),
			logx.Err(err))
		return
	}
	d.log.Info("reminder delivered",
		logx.Int64("reminder_id", p.ID),
		logx.Int64("chat_id", p.ChatID),
		logx.Duration("took", time.Since(start)))
}
