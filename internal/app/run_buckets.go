package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/dev-tams/cloudsweep/internal/bucket"
	"github.com/dev-tams/cloudsweep/internal/config"
	"github.com/dev-tams/cloudsweep/internal/logctx"
	"github.com/dev-tams/cloudsweep/internal/notify"
	"github.com/dev-tams/cloudsweep/internal/stack"
)

type BucketResult struct {
	Bucket   string
	Stack    string
	Status   string
	StackErr error
	Err      error
	Emptied  bucket.EmptyResult
	Duration time.Duration
}

// Summary lists what a bucket run left behind.
type Summary struct {
	UndeletedBuckets mapset.Set[string]
	UndeletedStacks  mapset.Set[string]
}

func Summarize(results []BucketResult) Summary {
	s := Summary{
		UndeletedBuckets: mapset.NewThreadUnsafeSet[string](),
		UndeletedStacks:  mapset.NewThreadUnsafeSet[string](),
	}
	for _, r := range results {
		if r.Status == StatusFailed {
			s.UndeletedBuckets.Add(r.Bucket)
		}
		if r.StackErr != nil {
			s.UndeletedStacks.Add(r.Stack)
		}
	}
	return s
}

// Leftovers names every undeleted resource, sorted, for notifications.
func (s Summary) Leftovers() []string {
	var out []string
	for _, b := range sorted(s.UndeletedBuckets) {
		out = append(out, "bucket:"+b)
	}
	for _, st := range sorted(s.UndeletedStacks) {
		out = append(out, "stack:"+st)
	}
	return out
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}

type BucketDeps struct {
	S3             bucket.API
	CloudFormation stack.API
	// StackWaiter overrides the CloudFormation delete waiter; nil uses the SDK's.
	StackWaiter stack.Waiter
}

// RunBuckets cleans up names, prints the summary, and sends the run event.
// Resources that could not be removed are reported, not returned as an error.
func RunBuckets(ctx context.Context, cfg *config.Config, deps BucketDeps, names []string, verbose bool) error {
	started := time.Now()
	dispatcher, err := notify.NewDispatcher(cfg.Notifications)
	if err != nil {
		return err
	}

	results, summary := RunBucketCleanup(ctx, cfg, deps, names, verbose)
	printBucketSummary(summary)

	var t tally
	for _, r := range results {
		t.add(r.Status)
	}
	// A stack left behind fails the run through its leftover entry.
	sendEvent(ctx, dispatcher, runEvent("buckets", t, summary.Leftovers(), started, nil), verbose)
	return nil
}

// RunBucketCleanup processes buckets one at a time:
// existence check, owning stack deletion, then empty and delete of whatever
// bucket is left.
func RunBucketCleanup(ctx context.Context, cfg *config.Config, deps BucketDeps, names []string, verbose bool) ([]BucketResult, Summary) {
	cleaner := bucket.NewCleaner(deps.S3, cfg.Buckets.PageSize, cfg.Buckets.StackTag)
	opts := []stack.Option{stack.WithMaxWait(cfg.Buckets.StackWait)}
	if deps.StackWaiter != nil {
		opts = append(opts, stack.WithWaiter(deps.StackWaiter))
	}
	drains := &drainRecorder{cleaner: cleaner, drained: map[string]bucket.EmptyResult{}}
	stacks := stack.NewDeleter(deps.CloudFormation, drains, opts...)

	results := make([]BucketResult, 0, len(names))
	for _, name := range names {
		res := cleanBucket(ctx, cleaner, stacks, drains, name)
		results = append(results, res)

		if verbose || res.Status != StatusSkipped {
			fmt.Printf("bucket %s: name=%s stack=%s objects=%d uploads=%d duration=%s\n",
				res.Status, res.Bucket, dash(res.Stack), res.Emptied.Objects.Deleted, res.Emptied.Uploads,
				res.Duration.Round(time.Millisecond))
		}
	}
	return results, Summarize(results)
}

// drainRecorder is the stack deleter's emptier. It keeps what each bucket gave
// up so a bucket removed along with its stack still reports its objects.
type drainRecorder struct {
	cleaner *bucket.Cleaner
	drained map[string]bucket.EmptyResult
}

func (d *drainRecorder) Empty(ctx context.Context, name string) bucket.EmptyResult {
	res := d.cleaner.Empty(ctx, name)
	total := d.drained[name]
	total.Add(res)
	d.drained[name] = total
	return res
}

func (d *drainRecorder) take(name string) bucket.EmptyResult {
	res := d.drained[name]
	delete(d.drained, name)
	return res
}

// cleanBucket passes ctx down unchanged; the bucket and stack packages tag
// their own lines.
func cleanBucket(ctx context.Context, cleaner *bucket.Cleaner, stacks *stack.Deleter, drains *drainRecorder, name string) BucketResult {
	log := logctx.FromContext(ctx).With(slog.String("bucket", name))
	started := time.Now()
	res := BucketResult{Bucket: name}
	done := func(status string) BucketResult {
		res.Status = status
		res.Duration = time.Since(started)
		return res
	}

	exists, err := cleaner.Exists(ctx, name)
	if err != nil {
		res.Err = err
		log.Error("bucket check failed", slog.Any("error", err))
		return done(StatusFailed)
	}
	if !exists {
		log.Info("bucket not found, skipping")
		return done(StatusSkipped)
	}

	owner, err := cleaner.OwningStack(ctx, name)
	if err != nil {
		log.Warn("could not read bucket tags, treating as unmanaged", slog.Any("error", err))
	}
	res.Stack = owner

	if owner != "" {
		err := stacks.Delete(ctx, owner, name)
		res.Emptied = drains.take(name)
		if err != nil {
			res.StackErr = err
			log.Error("stack not deleted", slog.String("stack", owner), slog.Any("error", err))
		}
		exists, err = cleaner.Exists(ctx, name)
		if err != nil {
			res.Err = err
			return done(StatusFailed)
		}
		if !exists {
			return done(StatusDeleted)
		}
	}

	res.Emptied.Add(cleaner.Empty(ctx, name))
	if err := cleaner.Delete(ctx, name); err != nil {
		res.Err = err
		log.Error("bucket not deleted", slog.Any("error", err))
		return done(StatusFailed)
	}
	log.Info("bucket deleted",
		slog.Int("objects", res.Emptied.Objects.Deleted),
		slog.Int("uploads", res.Emptied.Uploads))
	return done(StatusDeleted)
}

func printBucketSummary(s Summary) {
	fmt.Printf("undeleted buckets: %s\n", joinOrNone(sorted(s.UndeletedBuckets)))
	fmt.Printf("undeleted stacks: %s\n", joinOrNone(sorted(s.UndeletedStacks)))
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
