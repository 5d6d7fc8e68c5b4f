package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/dev-tams/cloudsweep/internal/config"
	"github.com/dev-tams/cloudsweep/internal/logctx"
	"github.com/dev-tams/cloudsweep/internal/notify"
	"github.com/dev-tams/cloudsweep/internal/report"
	"github.com/dev-tams/cloudsweep/internal/storage"
)

// RunComplianceReport writes the aggregator compliance workbook to st and
// returns its location. Rule names come from report.input_file when it exists.
func RunComplianceReport(ctx context.Context, cfg *config.Config, fs afero.Fs, client report.ConfigAPI, st storage.Storage, verbose bool) (string, error) {
	started := time.Now()
	dispatcher, err := notify.NewDispatcher(cfg.Notifications)
	if err != nil {
		return "", err
	}

	loc, err := complianceReport(ctx, cfg, fs, client, st)
	finishReport(ctx, dispatcher, "report compliance", loc, started, err, verbose)
	return loc, err
}

func complianceReport(ctx context.Context, cfg *config.Config, fs afero.Fs, client report.ConfigAPI, st storage.Storage) (string, error) {
	log := logctx.FromContext(ctx)

	rules, found, err := report.ReadRuleNames(fs, cfg.Report.InputFile)
	if err != nil {
		return "", fmt.Errorf("read rule names: %w", err)
	}
	if found {
		log.Info("rule names loaded", slog.String("file", cfg.Report.InputFile), slog.Int("rules", len(rules)))
	} else {
		log.Info("no rule list, reporting every non-compliant rule", slog.String("file", cfg.Report.InputFile))
	}

	rep, err := report.NewComplianceCollector(client, cfg.Report.AggregatorName).Collect(ctx, rules)
	if err != nil {
		return "", err
	}
	return rep.Save(ctx, st, cfg.Report.OutputFile)
}

// RunFindingsReport writes the open failed Security Hub findings to st.
func RunFindingsReport(ctx context.Context, cfg *config.Config, client report.FindingsAPI, st storage.Storage, verbose bool) (string, error) {
	started := time.Now()
	dispatcher, err := notify.NewDispatcher(cfg.Notifications)
	if err != nil {
		return "", err
	}

	var loc string
	findings, err := report.CollectFindings(ctx, client)
	if err == nil {
		loc, err = report.SaveFindings(ctx, st, cfg.Report.FindingsFile, findings)
	}
	finishReport(ctx, dispatcher, "report findings", loc, started, err, verbose)
	return loc, err
}

func finishReport(ctx context.Context, dispatcher *notify.Dispatcher, command, loc string, started time.Time, err error, verbose bool) {
	var t tally
	if err != nil {
		t.add(StatusFailed)
	} else {
		t.add(StatusDeleted)
		fmt.Printf("report OK: %s dest=%s duration=%s\n", command, loc, time.Since(started).Round(time.Millisecond))
	}
	ev := runEvent(command, t, nil, started, err)
	ev.Output = loc
	sendEvent(ctx, dispatcher, ev, verbose)
}
