// Package table deletes DynamoDB tables, lifting deletion protection first.
package table

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dev-tams/cloudsweep/internal/awserr"
	"github.com/dev-tams/cloudsweep/internal/logctx"
)

const DefaultWait = 5 * time.Minute

type API interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

type Waiter interface {
	Wait(ctx context.Context, params *dynamodb.DescribeTableInput, maxWaitDur time.Duration, optFns ...func(*dynamodb.TableNotExistsWaiterOptions)) error
}

var _ Waiter = (*dynamodb.TableNotExistsWaiter)(nil)

type Deleter struct {
	client  API
	waiter  Waiter
	maxWait time.Duration
}

// NewDeleter returns a Deleter that waits up to maxWait for each table to
// disappear. A nil waiter uses the SDK's TableNotExistsWaiter.
func NewDeleter(client API, waiter Waiter, maxWait time.Duration) *Deleter {
	if waiter == nil {
		waiter = dynamodb.NewTableNotExistsWaiter(client)
	}
	if maxWait <= 0 {
		maxWait = DefaultWait
	}
	return &Deleter{client: client, waiter: waiter, maxWait: maxWait}
}

// Delete removes the table and waits for it to be gone. found is false when
// the table did not exist.
func (d *Deleter) Delete(ctx context.Context, name string) (found bool, err error) {
	log := logctx.FromContext(ctx).With(slog.String("table", name))

	out, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err != nil {
		if awserr.IsNotFound(err) {
			log.Info("table not found")
			return false, nil
		}
		return true, fmt.Errorf("describe table %s: %w", name, err)
	}

	if t := out.Table; t != nil && t.TableStatus != types.TableStatusDeleting {
		if aws.ToBool(t.DeletionProtectionEnabled) {
			if _, err := d.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
				TableName:                 aws.String(name),
				DeletionProtectionEnabled: aws.Bool(false),
			}); err != nil {
				return true, fmt.Errorf("disable deletion protection on %s: %w", name, err)
			}
			log.Info("deletion protection disabled")
		}

		if _, err := d.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)}); err != nil {
			if awserr.IsNotFound(err) {
				return true, nil
			}
			return true, fmt.Errorf("delete table %s: %w", name, err)
		}
	}

	if err := d.waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, d.maxWait); err != nil {
		return true, fmt.Errorf("wait for table %s: %w", name, err)
	}
	log.Info("table deleted")
	return true, nil
}
