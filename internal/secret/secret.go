// Package secret retires stale Secrets Manager secrets by copying each one to a
// "-delete-me" twin and scheduling the original for deletion.
package secret

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dev-tams/cloudsweep/internal/awserr"
	"github.com/dev-tams/cloudsweep/internal/config"
	"github.com/dev-tams/cloudsweep/internal/logctx"
)

type API interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

var _ API = (*secretsmanager.Client)(nil)

type Status string

const (
	StatusRenamed Status = "renamed"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

type Result struct {
	Name    string
	NewName string
	Status  Status
	Reason  string
	Err     error
}

type Expirer struct {
	client       API
	pattern      *regexp.Regexp
	staleAfter   time.Duration
	maxRetries   int
	retryDelay   time.Duration
	recoveryDays int
	now          func() time.Time
}

type Option func(*Expirer)

// WithClock replaces time.Now for the last-access check.
func WithClock(now func() time.Time) Option {
	return func(e *Expirer) { e.now = now }
}

// NewExpirer builds an Expirer from the secrets settings. recoveryDays is the
// window passed to DeleteSecret and must already be validated.
func NewExpirer(client API, cfg config.SecretsConfig, recoveryDays int, opts ...Option) (*Expirer, error) {
	pattern, err := regexp.Compile(cfg.NamePattern)
	if err != nil {
		return nil, fmt.Errorf("secrets.name_pattern: %w", err)
	}
	e := &Expirer{
		client:       client,
		pattern:      pattern,
		staleAfter:   cfg.StaleAfter,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		recoveryDays: recoveryDays,
		now:          time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NameEligible reports whether name may be processed at all, with the reason
// when it may not.
func (e *Expirer) NameEligible(name string) (bool, string) {
	if strings.HasSuffix(name, config.DeleteMeSuffix) {
		return false, "already renamed"
	}
	if !e.pattern.MatchString(name) {
		return false, "name does not match pattern"
	}
	return true, ""
}

// Stale reports whether a secret last read at lastAccessed is unused. A secret
// that was never read is stale.
func (e *Expirer) Stale(lastAccessed *time.Time) bool {
	if lastAccessed == nil {
		return true
	}
	return e.now().Sub(*lastAccessed) > e.staleAfter
}

// ExpireAll processes every name concurrently. Results keep the input order.
func (e *Expirer) ExpireAll(ctx context.Context, names []string) []Result {
	results := make([]Result, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i] = e.Expire(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Expire runs the rename workflow for one secret. Errors are reported in the
// result and never affect other secrets.
func (e *Expirer) Expire(ctx context.Context, name string) Result {
	log := logctx.FromContext(ctx).With(slog.String("secret", name))
	res := Result{Name: name}

	if ok, reason := e.NameEligible(name); !ok {
		log.Info("secret skipped", slog.String("reason", reason))
		return skipped(res, reason)
	}

	desc, err := retry(ctx, e, "DescribeSecret", func() (*secretsmanager.DescribeSecretOutput, error) {
		return e.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(name)})
	})
	if err != nil {
		if awserr.IsNotFound(err) {
			log.Info("secret not found")
			return skipped(res, "not found")
		}
		return failed(log, res, fmt.Errorf("describe secret: %w", err))
	}
	if desc.DeletedDate != nil {
		log.Info("secret already scheduled for deletion")
		return skipped(res, "already scheduled for deletion")
	}
	if !e.Stale(desc.LastAccessedDate) {
		log.Info("secret still in use", slog.Time("lastAccessed", aws.ToTime(desc.LastAccessedDate)))
		return skipped(res, "accessed recently")
	}

	create, err := e.copyInput(ctx, name, desc)
	if err != nil {
		return failed(log, res, err)
	}
	if _, err := retry(ctx, e, "CreateSecret", func() (*secretsmanager.CreateSecretOutput, error) {
		return e.client.CreateSecret(ctx, create)
	}); err != nil {
		return failed(log, res, fmt.Errorf("create %s: %w", aws.ToString(create.Name), err))
	}
	res.NewName = aws.ToString(create.Name)

	if _, err := retry(ctx, e, "DeleteSecret", func() (*secretsmanager.DeleteSecretOutput, error) {
		return e.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
			SecretId:             aws.String(name),
			RecoveryWindowInDays: aws.Int64(int64(e.recoveryDays)),
		})
	}); err != nil {
		return failed(log, res, fmt.Errorf("schedule deletion: %w", err))
	}

	log.Info("secret renamed",
		slog.String("newName", res.NewName),
		slog.Int("recoveryDays", e.recoveryDays))
	res.Status = StatusRenamed
	return res
}

// copyInput builds the CreateSecret request for the renamed twin. A secret with
// no readable version is copied with an empty string value.
func (e *Expirer) copyInput(ctx context.Context, name string, desc *secretsmanager.DescribeSecretOutput) (*secretsmanager.CreateSecretInput, error) {
	in := &secretsmanager.CreateSecretInput{
		Name:               aws.String(name + config.DeleteMeSuffix),
		Description:        desc.Description,
		KmsKeyId:           desc.KmsKeyId,
		Tags:               desc.Tags,
		ClientRequestToken: aws.String(uuid.NewString()),
	}

	val, err := retry(ctx, e, "GetSecretValue", func() (*secretsmanager.GetSecretValueOutput, error) {
		return e.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	})
	switch {
	case err != nil && awserr.IsNotFound(err):
		in.SecretString = aws.String("")
	case err != nil:
		return nil, fmt.Errorf("read secret value: %w", err)
	case val.SecretString != nil:
		in.SecretString = val.SecretString
	case len(val.SecretBinary) > 0:
		in.SecretBinary = val.SecretBinary
	default:
		in.SecretString = aws.String("")
	}
	return in, nil
}

// retry calls fn until it succeeds, fails with a non-throttling error, or the
// retry ceiling is reached. Throttling waits a constant delay between tries.
func retry[T any](ctx context.Context, e *Expirer, op string, fn func() (T, error)) (T, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryDelay), uint64(e.maxRetries)),
		ctx,
	)
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := fn()
		if err != nil && !awserr.IsThrottled(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy, func(err error, wait time.Duration) {
		logctx.FromContext(ctx).Warn("throttled, retrying",
			slog.String("op", op),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
}

func skipped(res Result, reason string) Result {
	res.Status = StatusSkipped
	res.Reason = reason
	return res
}

func failed(log *slog.Logger, res Result, err error) Result {
	log.Error("secret failed", slog.Any("error", err))
	res.Status = StatusFailed
	res.Err = err
	res.Reason = err.Error()
	return res
}
