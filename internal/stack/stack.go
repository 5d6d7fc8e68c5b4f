// Package stack deletes CloudFormation stacks that own buckets being cleaned
// up, emptying the bucket between attempts when the first delete fails.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/google/uuid"

	"github.com/dev-tams/cloudsweep/internal/awserr"
	"github.com/dev-tams/cloudsweep/internal/bucket"
	"github.com/dev-tams/cloudsweep/internal/logctx"
)

// DefaultWait bounds each delete attempt.
const DefaultWait = 5 * time.Minute

type API interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	UpdateTerminationProtection(ctx context.Context, params *cloudformation.UpdateTerminationProtectionInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateTerminationProtectionOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

var _ API = (*cloudformation.Client)(nil)

// Waiter blocks until a stack reaches DELETE_COMPLETE or the wait fails.
type Waiter interface {
	Wait(ctx context.Context, params *cloudformation.DescribeStacksInput, maxWaitDur time.Duration, optFns ...func(*cloudformation.StackDeleteCompleteWaiterOptions)) error
}

var _ Waiter = (*cloudformation.StackDeleteCompleteWaiter)(nil)

type BucketEmptier interface {
	Empty(ctx context.Context, bucket string) bucket.EmptyResult
}

var ErrProtected = errors.New("termination protection could not be disabled")

type Deleter struct {
	client  API
	waiter  Waiter
	emptier BucketEmptier
	maxWait time.Duration
}

type Option func(*Deleter)

func WithWaiter(w Waiter) Option {
	return func(d *Deleter) { d.waiter = w }
}

func WithMaxWait(wait time.Duration) Option {
	return func(d *Deleter) {
		if wait > 0 {
			d.maxWait = wait
		}
	}
}

func NewDeleter(client API, emptier BucketEmptier, opts ...Option) *Deleter {
	d := &Deleter{
		client:  client,
		emptier: emptier,
		maxWait: DefaultWait,
	}
	for _, o := range opts {
		o(d)
	}
	if d.waiter == nil {
		d.waiter = cloudformation.NewStackDeleteCompleteWaiter(client)
	}
	return d
}

// Delete removes stackName. When the first attempt fails, bucketName (if any)
// is emptied and the delete is tried exactly once more. A stack that does not
// exist is treated as deleted.
func (d *Deleter) Delete(ctx context.Context, stackName, bucketName string) error {
	log := logctx.FromContext(ctx).With(slog.String("stack", stackName))

	st, err := d.describe(ctx, stackName)
	if err != nil {
		return err
	}
	if st == nil {
		log.Info("stack already gone")
		return nil
	}

	if aws.ToBool(st.EnableTerminationProtection) {
		_, err := d.client.UpdateTerminationProtection(ctx, &cloudformation.UpdateTerminationProtectionInput{
			StackName:                   aws.String(stackName),
			EnableTerminationProtection: aws.Bool(false),
		})
		if err != nil {
			return fmt.Errorf("stack %s: %w: %w", stackName, ErrProtected, err)
		}
		log.Info("termination protection disabled")
	}

	err = d.deleteAndWait(ctx, stackName)
	if err == nil {
		log.Info("stack deleted")
		return nil
	}

	log.Warn("stack delete failed, emptying bucket and retrying",
		slog.String("bucket", bucketName), slog.Any("error", err))
	if bucketName != "" {
		d.emptier.Empty(ctx, bucketName)
	}

	err = d.deleteAndWait(ctx, stackName)
	if err == nil {
		log.Info("stack deleted on retry")
		return nil
	}

	d.diagnose(ctx, stackName)
	return fmt.Errorf("delete stack %s: %w", stackName, err)
}

func (d *Deleter) describe(ctx context.Context, stackName string) (*types.Stack, error) {
	out, err := d.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)})
	if err != nil {
		if awserr.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe stack %s: %w", stackName, err)
	}
	for i := range out.Stacks {
		if out.Stacks[i].StackStatus == types.StackStatusDeleteComplete {
			continue
		}
		return &out.Stacks[i], nil
	}
	return nil, nil
}

func (d *Deleter) deleteAndWait(ctx context.Context, stackName string) error {
	_, err := d.client.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName:          aws.String(stackName),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return err
	}
	return d.waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)}, d.maxWait)
}

// diagnose logs why the last attempt failed, calling out exports that another
// stack still imports. It never changes the outcome.
func (d *Deleter) diagnose(ctx context.Context, stackName string) {
	log := logctx.FromContext(ctx).With(slog.String("stack", stackName))

	out, err := d.client.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{StackName: aws.String(stackName)})
	if err != nil || len(out.StackEvents) == 0 {
		return
	}
	reason := aws.ToString(out.StackEvents[0].ResourceStatusReason)
	if export, importer, ok := awserr.ExportInUse(reason); ok {
		log.Warn("stack export still imported by another stack",
			slog.String("export", export),
			slog.String("importer", importer))
		return
	}
	log.Warn("stack delete failed twice", slog.String("reason", reason))
}
