package bucket

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dev-tams/cloudsweep/internal/awserr"
)

// Cleaner answers the per-bucket questions the cleanup driver asks and performs
// the final bucket deletion.
type Cleaner struct {
	client   API
	eraser   *Eraser
	stackTag string
}

func NewCleaner(client API, pageSize int32, stackTag string) *Cleaner {
	return &Cleaner{
		client:   client,
		eraser:   NewEraser(client, pageSize),
		stackTag: stackTag,
	}
}

func (c *Cleaner) Eraser() *Eraser { return c.eraser }

// Exists reports whether bucket is reachable. A missing bucket is not an error.
func (c *Cleaner) Exists(ctx context.Context, bucket string) (bool, error) {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	if awserr.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head bucket %s: %w", bucket, err)
}

// OwningStack returns the CloudFormation stack that created bucket, or "".
func (c *Cleaner) OwningStack(ctx context.Context, bucket string) (string, error) {
	out, err := c.client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		if awserr.Code(err) == "NoSuchTagSet" || awserr.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("get bucket tagging %s: %w", bucket, err)
	}
	for _, t := range out.TagSet {
		if aws.ToString(t.Key) == c.stackTag {
			return aws.ToString(t.Value), nil
		}
	}
	return "", nil
}

func (c *Cleaner) Empty(ctx context.Context, bucket string) EmptyResult {
	return c.eraser.Empty(ctx, bucket)
}

// Delete removes the (already drained) bucket. A bucket that is already gone
// counts as deleted.
func (c *Cleaner) Delete(ctx context.Context, bucket string) error {
	_, err := c.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !awserr.IsNotFound(err) {
		return fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return nil
}
