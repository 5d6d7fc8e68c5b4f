package bucket

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dev-tams/cloudsweep/internal/awserr"
	"github.com/dev-tams/cloudsweep/internal/logctx"
)

// MaxBatchSize is the DeleteObjects item limit.
const MaxBatchSize = 1000

// ObjectID names one object version. An empty VersionID addresses the current
// version (or the null version of an unversioned bucket).
type ObjectID struct {
	Key       string
	VersionID string
}

type DeleteResult struct {
	Requested int
	Deleted   int
	Skipped   int
}

func (r *DeleteResult) add(o DeleteResult) {
	r.Requested += o.Requested
	r.Deleted += o.Deleted
	r.Skipped += o.Skipped
}

// BatchDeleter removes object versions in DeleteObjects-sized chunks and falls
// back to one DeleteObject per identifier when a chunk is rejected.
type BatchDeleter struct {
	client       DeleteAPI
	maxBatchSize int
}

func NewBatchDeleter(client DeleteAPI) *BatchDeleter {
	return &BatchDeleter{client: client, maxBatchSize: MaxBatchSize}
}

// DeleteBatch never fails: anything that cannot be deleted is logged and counted
// as skipped.
func (b *BatchDeleter) DeleteBatch(ctx context.Context, bucket string, ids []ObjectID) DeleteResult {
	var res DeleteResult
	for start := 0; start < len(ids); start += b.maxBatchSize {
		end := min(start+b.maxBatchSize, len(ids))
		res.add(b.deleteChunk(ctx, bucket, ids[start:end]))
	}
	return res
}

func (b *BatchDeleter) deleteChunk(ctx context.Context, bucket string, ids []ObjectID) DeleteResult {
	log := logctx.FromContext(ctx)

	objects := make([]types.ObjectIdentifier, 0, len(ids))
	for _, id := range ids {
		objects = append(objects, identifier(id))
	}

	out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		log.Warn("batch delete rejected, deleting one by one",
			slog.String("bucket", bucket),
			slog.Int("objects", len(ids)),
			slog.String("kind", awserr.Classify(err).String()),
			slog.Any("error", err))
		return b.deleteEach(ctx, bucket, ids)
	}

	res := DeleteResult{Requested: len(ids), Deleted: len(ids)}
	for _, e := range out.Errors {
		res.Deleted--
		res.Skipped++
		log.Warn("object not deleted",
			slog.String("bucket", bucket),
			slog.String("key", aws.ToString(e.Key)),
			slog.String("versionId", aws.ToString(e.VersionId)),
			slog.String("code", aws.ToString(e.Code)),
			slog.String("message", aws.ToString(e.Message)))
	}
	return res
}

func (b *BatchDeleter) deleteEach(ctx context.Context, bucket string, ids []ObjectID) DeleteResult {
	log := logctx.FromContext(ctx)
	res := DeleteResult{Requested: len(ids)}

	for _, id := range ids {
		in := &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(id.Key),
		}
		if id.VersionID != "" {
			in.VersionId = aws.String(id.VersionID)
		}

		_, err := b.client.DeleteObject(ctx, in)
		if err != nil && !awserr.IsNotFound(err) {
			res.Skipped++
			log.Warn("skipping object",
				slog.String("bucket", bucket),
				slog.String("key", id.Key),
				slog.String("versionId", id.VersionID),
				slog.Any("error", err))
			continue
		}
		res.Deleted++
	}

	if res.Skipped > 0 {
		log.Info("per-object fallback finished",
			slog.String("bucket", bucket),
			slog.Int("deleted", res.Deleted),
			slog.Int("skipped", res.Skipped))
	}
	return res
}

func identifier(id ObjectID) types.ObjectIdentifier {
	oi := types.ObjectIdentifier{Key: aws.String(id.Key)}
	if id.VersionID != "" {
		oi.VersionId = aws.String(id.VersionID)
	}
	return oi
}
