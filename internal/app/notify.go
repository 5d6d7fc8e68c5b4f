package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dev-tams/cloudsweep/internal/logctx"
	"github.com/dev-tams/cloudsweep/internal/notify"
)

const notificationTimeout = 5 * time.Second

const (
	StatusDeleted = "deleted"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// tally counts results by status for the run event.
type tally struct {
	succeeded int
	failed    int
	skipped   int
}

func (t *tally) add(status string) {
	switch status {
	case StatusFailed:
		t.failed++
	case StatusSkipped:
		t.skipped++
	default:
		t.succeeded++
	}
}

// runEvent builds the run event. Any leftover makes the run a failure, even when
// every counted item succeeded.
func runEvent(command string, t tally, leftovers []string, started time.Time, err error) notify.Event {
	ev := notify.Event{
		Command:   command,
		Status:    notify.StatusFor(t.failed+len(leftovers), err),
		Succeeded: t.succeeded,
		Failed:    t.failed,
		Skipped:   t.skipped,
		Leftovers: leftovers,
		Duration:  time.Since(started).Round(time.Millisecond).String(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// sendEvent delivers the run event. Delivery failures are logged and never
// change the outcome of the run.
func sendEvent(ctx context.Context, dispatcher *notify.Dispatcher, event notify.Event, verbose bool) {
	notifyCtx, cancel := notificationContext(ctx)
	defer cancel()

	if err := dispatcher.Notify(notifyCtx, event); err != nil {
		logctx.FromContext(ctx).Warn("notification failed", "command", event.Command, "status", event.Status, "error", err)
		if verbose {
			fmt.Printf("notification failed: command=%s status=%s err=%v\n", event.Command, event.Status, err)
		}
	}
}

func notificationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), notificationTimeout)
	}
	return context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
}
