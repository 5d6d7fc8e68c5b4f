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

type EmptyResult struct {
	Pages   int
	Objects DeleteResult
	Uploads int
}

// Add folds o into r, for buckets drained more than once.
func (r *EmptyResult) Add(o EmptyResult) {
	r.Pages += o.Pages
	r.Objects.add(o.Objects)
	r.Uploads += o.Uploads
}

// Eraser drains a bucket: every version and delete marker, then versioning is
// suspended, then in-progress multipart uploads are aborted. All of it is best
// effort; failures are logged and the walk stops.
type Eraser struct {
	client   EraserAPI
	deleter  *BatchDeleter
	pageSize int32
}

func NewEraser(client EraserAPI, pageSize int32) *Eraser {
	if pageSize <= 0 || pageSize > MaxBatchSize {
		pageSize = MaxBatchSize
	}
	return &Eraser{
		client:   client,
		deleter:  NewBatchDeleter(client),
		pageSize: pageSize,
	}
}

func (e *Eraser) Empty(ctx context.Context, bucket string) EmptyResult {
	log := logctx.FromContext(ctx).With(slog.String("bucket", bucket))

	res := e.deleteVersions(ctx, bucket)
	log.Info("versions drained",
		slog.Int("pages", res.Pages),
		slog.Int("deleted", res.Objects.Deleted),
		slog.Int("skipped", res.Objects.Skipped))

	_, err := e.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &types.VersioningConfiguration{
			Status: types.BucketVersioningStatusSuspended,
		},
	})
	if err != nil && !awserr.IsNotFound(err) {
		log.Warn("could not suspend versioning", slog.Any("error", err))
	}

	res.Uploads = e.AbortUploads(ctx, bucket)
	return res
}

func (e *Eraser) deleteVersions(ctx context.Context, bucket string) EmptyResult {
	log := logctx.FromContext(ctx)
	var res EmptyResult

	var keyMarker, versionMarker *string
	for ctx.Err() == nil {
		out, err := e.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(bucket),
			MaxKeys:         aws.Int32(e.pageSize),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		})
		if err != nil {
			if !awserr.IsNotFound(err) {
				log.Warn("listing versions failed, stopping",
					slog.String("bucket", bucket), slog.Any("error", err))
			}
			break
		}
		res.Pages++

		if ids := pageIDs(out); len(ids) > 0 {
			res.Objects.add(e.deleter.DeleteBatch(ctx, bucket, ids))
		}

		if aws.ToString(out.NextKeyMarker) == "" {
			break
		}
		if out.IsTruncated != nil && !*out.IsTruncated {
			break
		}
		keyMarker, versionMarker = out.NextKeyMarker, out.NextVersionIdMarker
	}
	return res
}

func pageIDs(out *s3.ListObjectVersionsOutput) []ObjectID {
	ids := make([]ObjectID, 0, len(out.Versions)+len(out.DeleteMarkers))
	for _, v := range out.Versions {
		ids = append(ids, ObjectID{Key: aws.ToString(v.Key), VersionID: aws.ToString(v.VersionId)})
	}
	for _, m := range out.DeleteMarkers {
		ids = append(ids, ObjectID{Key: aws.ToString(m.Key), VersionID: aws.ToString(m.VersionId)})
	}
	return ids
}

// AbortUploads aborts every in-progress multipart upload and returns how many
// were aborted.
func (e *Eraser) AbortUploads(ctx context.Context, bucket string) int {
	log := logctx.FromContext(ctx).With(slog.String("bucket", bucket))
	aborted := 0

	var keyMarker, uploadMarker *string
	for ctx.Err() == nil {
		out, err := e.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
			Bucket:         aws.String(bucket),
			MaxUploads:     aws.Int32(e.pageSize),
			KeyMarker:      keyMarker,
			UploadIdMarker: uploadMarker,
		})
		if err != nil {
			if !awserr.IsNotFound(err) {
				log.Warn("listing multipart uploads failed, stopping", slog.Any("error", err))
			}
			break
		}

		for _, u := range out.Uploads {
			_, err := e.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(bucket),
				Key:      u.Key,
				UploadId: u.UploadId,
			})
			if err != nil && !awserr.IsNotFound(err) {
				log.Warn("abort multipart upload failed",
					slog.String("key", aws.ToString(u.Key)),
					slog.String("uploadId", aws.ToString(u.UploadId)),
					slog.Any("error", err))
				continue
			}
			aborted++
		}

		if aws.ToString(out.NextKeyMarker) == "" && aws.ToString(out.NextUploadIdMarker) == "" {
			break
		}
		if out.IsTruncated != nil && !*out.IsTruncated {
			break
		}
		keyMarker, uploadMarker = out.NextKeyMarker, out.NextUploadIdMarker
	}

	if aborted > 0 {
		log.Info("multipart uploads aborted", slog.Int("count", aborted))
	}
	return aborted
}
