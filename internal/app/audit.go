package app

import (
	"context"
	"time"

	"cronhost/internal/eventbus"
	"cronhost/internal/services/scheduler"
	"cronhost/internal/storage"
	logx "cronhost/pkg/logx"
)

const auditWriteTimeout = 2 * time.Second

// startAudit persists scheduler lifecycle events. The writer outlives the
// run context so the events published while stopping are kept; it returns
// once stopAudit closes its subscription.
func (a *App) startAudit() {
	events, unsub := a.bus.SubscribePrefix("scheduler.", 64)
	a.stopAudit = unsub
	a.sup.Go0("audit.writer", func(context.Context) {
		for e := range events {
			entry, ok := auditEntry(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
			err := a.store.AppendAudit(wctx, entry)
			cancel()
			if err != nil {
				a.log.Warn("audit append failed", logx.String("job", entry.Job), logx.Err(err))
			}
		}
	})
}

func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	var action string
	switch e.Type {
	case scheduler.EventSchedulerStarted:
		action = storage.ActionStarted
	case scheduler.EventSchedulerReconfigured:
		action = storage.ActionReconfigured
	case scheduler.EventSchedulerStopped:
		action = storage.ActionStopped
	case scheduler.EventSchedulerFatal:
		action = storage.ActionFatal
	default:
		return storage.AuditEntry{}, false
	}
	ev, ok := e.Data.(scheduler.LifecycleEvent)
	if !ok {
		return storage.AuditEntry{}, false
	}
	return storage.AuditEntry{
		At:          e.Time,
		Job:         ev.Job,
		Action:      action,
		Expr:        ev.Expr,
		ThresholdMS: ev.Threshold.Milliseconds(),
		Error:       ev.Error,
	}, true
}

// logLastAudit reports how the previous run ended.
func (a *App) logLastAudit(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	last, err := a.store.RecentAudit(rctx, "", 1)
	if err != nil {
		a.log.Warn("audit read failed", logx.Err(err))
		return
	}
	if len(last) == 0 {
		return
	}
	e := last[0]
	fields := []logx.Field{
		logx.String("job", e.Job),
		logx.String("action", e.Action),
		logx.Time("at", e.At),
	}
	if e.Action == storage.ActionFatal {
		a.log.Warn("previous run ended with a scheduler defect", append(fields, logx.String("err", e.Error))...)
		return
	}
	a.log.Info("last audit entry", fields...)
}
