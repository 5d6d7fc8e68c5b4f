package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dev-tams/cloudsweep/internal/config"
	"github.com/dev-tams/cloudsweep/internal/logctx"
	"github.com/dev-tams/cloudsweep/internal/notify"
	"github.com/dev-tams/cloudsweep/internal/secret"
)

// RunSecrets renames and schedules deletion of every eligible secret in names
// with a recovery window of days. Secrets are processed concurrently.
func RunSecrets(ctx context.Context, cfg *config.Config, client secret.API, names []string, days int, verbose bool) ([]secret.Result, error) {
	if err := config.ValidateRecoveryDays(days); err != nil {
		return nil, err
	}
	dispatcher, err := notify.NewDispatcher(cfg.Notifications)
	if err != nil {
		return nil, err
	}
	expirer, err := secret.NewExpirer(client, cfg.Secrets, days)
	if err != nil {
		return nil, err
	}
	if cfg.Secrets.NamePattern == config.DefaultSecretNamePattern {
		logctx.FromContext(ctx).Warn("secrets.name_pattern is the default and admits every secret name; set it to restrict the run",
			slog.Int("secrets", len(names)))
	}

	started := time.Now()
	results := expirer.ExpireAll(ctx, names)

	var (
		t      tally
		failed []string
	)
	for _, r := range results {
		switch r.Status {
		case secret.StatusRenamed:
			t.add(StatusDeleted)
			fmt.Printf("secret renamed: name=%s new=%s recovery_days=%d\n", r.Name, r.NewName, days)
		case secret.StatusSkipped:
			t.add(StatusSkipped)
			if verbose {
				fmt.Printf("secret skipped: name=%s reason=%s\n", r.Name, r.Reason)
			}
		default:
			t.add(StatusFailed)
			failed = append(failed, "secret:"+r.Name)
			fmt.Printf("secret failed: name=%s err=%v\n", r.Name, r.Err)
		}
	}
	fmt.Printf("secrets: renamed=%d skipped=%d failed=%d\n", t.succeeded, t.skipped, t.failed)

	sendEvent(ctx, dispatcher, runEvent("secrets", t, failed, started, nil), verbose)
	return results, nil
}
