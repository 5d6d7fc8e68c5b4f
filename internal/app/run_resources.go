package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/wafv2/types"

	"github.com/dev-tams/cloudsweep/internal/config"
	"github.com/dev-tams/cloudsweep/internal/logctx"
	"github.com/dev-tams/cloudsweep/internal/notify"
	"github.com/dev-tams/cloudsweep/internal/table"
	"github.com/dev-tams/cloudsweep/internal/webacl"
)

// ResourceResult is the outcome for one table or web ACL.
type ResourceResult struct {
	Name     string
	Status   string
	Err      error
	Duration time.Duration
}

// deleteFunc removes one named resource. found is false when it did not exist.
type deleteFunc func(ctx context.Context, name string) (found bool, err error)

// runSequential deletes names one after another and reports like the bucket
// run: one line per resource, then the leftovers, then the run event.
func runSequential(ctx context.Context, cfg *config.Config, kind string, del deleteFunc, names []string, verbose bool) ([]ResourceResult, error) {
	dispatcher, err := notify.NewDispatcher(cfg.Notifications)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	results := make([]ResourceResult, 0, len(names))
	var (
		t         tally
		undeleted []string
		leftovers []string
	)
	for _, name := range names {
		rctx := logctx.WithLogger(ctx, logctx.FromContext(ctx).With(slog.String(kind, name)))
		began := time.Now()

		found, err := del(rctx, name)
		res := ResourceResult{Name: name, Err: err, Duration: time.Since(began)}
		switch {
		case err != nil:
			res.Status = StatusFailed
			undeleted = append(undeleted, name)
			leftovers = append(leftovers, kind+":"+name)
			logctx.FromContext(rctx).Error(kind+" not deleted", slog.Any("error", err))
		case !found:
			res.Status = StatusSkipped
		default:
			res.Status = StatusDeleted
		}
		t.add(res.Status)
		results = append(results, res)

		if verbose || res.Status != StatusSkipped {
			fmt.Printf("%s %s: name=%s duration=%s\n", kind, res.Status, name, res.Duration.Round(time.Millisecond))
		}
	}

	fmt.Printf("undeleted %ss: %s\n", kind, joinOrNone(undeleted))
	sendEvent(ctx, dispatcher, runEvent(kind+"s", t, leftovers, started, nil), verbose)
	return results, nil
}

// RunTables deletes DynamoDB tables. A nil waiter uses the SDK's.
func RunTables(ctx context.Context, cfg *config.Config, client table.API, waiter table.Waiter, names []string, verbose bool) ([]ResourceResult, error) {
	d := table.NewDeleter(client, waiter, cfg.Tables.Wait)
	return runSequential(ctx, cfg, "table", d.Delete, names, verbose)
}

// RunWebACLs deletes WAFv2 web ACLs in scope.
func RunWebACLs(ctx context.Context, cfg *config.Config, client webacl.API, scope types.Scope, names []string, verbose bool) ([]ResourceResult, error) {
	d := webacl.NewDeleter(client, scope)
	return runSequential(ctx, cfg, "webacl", d.Delete, names, verbose)
}
