package storage

import (
	"context"
	"time"

	"recsched/internal/eventbus"
	"recsched/pkg/logx"
)

const appendTimeout = 2 * time.Second

// AuditTypes are the bus events the sink persists.
var AuditTypes = []string{
	eventbus.RecordingScheduled,
	eventbus.RecordingCanceled,
	eventbus.RecordingFired,
	eventbus.CatalogReloaded,
	eventbus.CatalogReloadFailed,
}

// RunAuditSink copies bus events into st until ctx is done. Append failures
// are logged and do not stop the sink.
func RunAuditSink(ctx context.Context, bus eventbus.Bus, st Store, log logx.Logger) error {
	ch, unsub := bus.Subscribe(64, AuditTypes...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			e, ok := auditFromEvent(ev)
			if !ok {
				continue
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
			err := st.AppendAudit(actx, e)
			cancel()
			if err != nil {
				log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
			}
		}
	}
}

func auditFromEvent(ev eventbus.Event) (AuditEntry, bool) {
	e := AuditEntry{At: ev.Time, Action: ev.Type}
	switch d := ev.Data.(type) {
	case eventbus.RecordingData:
		e.RecordingID, e.Name, e.Channel = d.ID, d.Name, d.Channel
		e.Handle, e.FireAt, e.Outcome = d.Handle, d.FireAt, d.Outcome
	case eventbus.CatalogData:
		e.Detail = d.Error
		if d.Error == "" {
			e.Outcome = "ok"
		}
	default:
		return AuditEntry{}, false
	}
	return e, true
}
