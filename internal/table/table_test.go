package table

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTables struct {
	tables    map[string]*types.TableDescription
	updates   []*dynamodb.UpdateTableInput
	deletes   []string
	deleteErr error
}

func (f *fakeTables) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	t, ok := f.tables[aws.ToString(in.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found")}
	}
	return &dynamodb.DescribeTableOutput{Table: t}, nil
}

func (f *fakeTables) UpdateTable(_ context.Context, in *dynamodb.UpdateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.updates = append(f.updates, in)
	f.tables[aws.ToString(in.TableName)].DeletionProtectionEnabled = in.DeletionProtectionEnabled
	return &dynamodb.UpdateTableOutput{}, nil
}

func (f *fakeTables) DeleteTable(_ context.Context, in *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	name := aws.ToString(in.TableName)
	f.deletes = append(f.deletes, name)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	if aws.ToBool(f.tables[name].DeletionProtectionEnabled) {
		return nil, errors.New("deletion protection is enabled")
	}
	delete(f.tables, name)
	return &dynamodb.DeleteTableOutput{}, nil
}

type waitRecorder struct {
	calls   int
	maxWait time.Duration
	err     error
}

func (w *waitRecorder) Wait(_ context.Context, _ *dynamodb.DescribeTableInput, maxWait time.Duration, _ ...func(*dynamodb.TableNotExistsWaiterOptions)) error {
	w.calls++
	w.maxWait = maxWait
	return w.err
}

func activeTable(name string, protected bool) *types.TableDescription {
	return &types.TableDescription{
		TableName:                 aws.String(name),
		TableStatus:               types.TableStatusActive,
		DeletionProtectionEnabled: aws.Bool(protected),
	}
}

func TestDeleteMissingTable(t *testing.T) {
	f := &fakeTables{tables: map[string]*types.TableDescription{}}
	w := &waitRecorder{}

	found, err := NewDeleter(f, w, time.Minute).Delete(context.Background(), "orders")

	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, f.deletes)
	assert.Zero(t, w.calls)
}

func TestDeleteLiftsDeletionProtection(t *testing.T) {
	f := &fakeTables{tables: map[string]*types.TableDescription{"orders": activeTable("orders", true)}}
	w := &waitRecorder{}

	found, err := NewDeleter(f, w, time.Minute).Delete(context.Background(), "orders")

	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, f.updates, 1)
	assert.False(t, aws.ToBool(f.updates[0].DeletionProtectionEnabled))
	assert.Equal(t, []string{"orders"}, f.deletes)
	assert.Equal(t, 1, w.calls)
	assert.Equal(t, time.Minute, w.maxWait)
}

func TestDeleteUnprotectedTableSkipsUpdate(t *testing.T) {
	f := &fakeTables{tables: map[string]*types.TableDescription{"orders": activeTable("orders", false)}}

	_, err := NewDeleter(f, &waitRecorder{}, 0).Delete(context.Background(), "orders")

	require.NoError(t, err)
	assert.Empty(t, f.updates)
}

func TestDeleteAlreadyDeletingOnlyWaits(t *testing.T) {
	tbl := activeTable("orders", false)
	tbl.TableStatus = types.TableStatusDeleting
	f := &fakeTables{tables: map[string]*types.TableDescription{"orders": tbl}}
	w := &waitRecorder{}

	found, err := NewDeleter(f, w, 0).Delete(context.Background(), "orders")

	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, f.deletes)
	assert.Equal(t, DefaultWait, w.maxWait)
}

func TestDeleteReportsFailures(t *testing.T) {
	f := &fakeTables{
		tables:    map[string]*types.TableDescription{"orders": activeTable("orders", false)},
		deleteErr: &types.ResourceInUseException{Message: aws.String("table is being updated")},
	}
	_, err := NewDeleter(f, &waitRecorder{}, 0).Delete(context.Background(), "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete table orders")

	f = &fakeTables{tables: map[string]*types.TableDescription{"orders": activeTable("orders", false)}}
	_, err = NewDeleter(f, &waitRecorder{err: errors.New("exceeded max wait time")}, 0).Delete(context.Background(), "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait for table orders")
}
