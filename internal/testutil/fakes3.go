// Package testutil holds in-memory fakes of the AWS APIs the cleanup jobs call.
package testutil

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Version is one stored object version or delete marker.
type Version struct {
	Key          string
	VersionID    string
	DeleteMarker bool
}

type Upload struct {
	Key      string
	UploadID string
	Aborted  bool
}

type FakeBucket struct {
	Versions   []Version
	Tags       map[string]string
	Uploads    []Upload
	Versioning types.BucketVersioningStatus
}

// FakeS3 is a versioned, in-memory S3. Listing pages follow the real marker
// semantics: each page resumes strictly after (KeyMarker, VersionIdMarker).
type FakeS3 struct {
	mu      sync.Mutex
	Buckets map[string]*FakeBucket
	calls   map[string]int
	// Objects holds PutObject bodies keyed by "bucket/key".
	Objects map[string][]byte

	// DeleteObjectsErr, when set, is consulted before every DeleteObjects call.
	DeleteObjectsErr func(bucket string, call int) error
	// DeleteObjectErr fails single-object deletes for the listed keys.
	DeleteObjectErr map[string]error
	ListErr         map[string]error
	HeadErr         map[string]error
	DeleteBucketErr map[string]error
}

func NewFakeS3() *FakeS3 {
	return &FakeS3{
		Buckets:         map[string]*FakeBucket{},
		calls:           map[string]int{},
		Objects:         map[string][]byte{},
		DeleteObjectErr: map[string]error{},
		ListErr:         map[string]error{},
		HeadErr:         map[string]error{},
		DeleteBucketErr: map[string]error{},
	}
}

// AddVersions stores n versions named <prefix>-00000.. in bucket, creating it.
func (f *FakeS3) AddVersions(bucket, prefix string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bucket(bucket)
	for i := 0; i < n; i++ {
		b.Versions = append(b.Versions, Version{
			Key:       fmt.Sprintf("%s-%05d", prefix, i),
			VersionID: fmt.Sprintf("v%05d", i),
		})
	}
}

func (f *FakeS3) AddBucket(bucket string) *FakeBucket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bucket(bucket)
}

func (f *FakeS3) bucket(name string) *FakeBucket {
	b, ok := f.Buckets[name]
	if !ok {
		b = &FakeBucket{Tags: map[string]string{}}
		f.Buckets[name] = b
	}
	return b
}

// Calls returns how many times op was invoked against bucket.
func (f *FakeS3) Calls(op, bucket string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op+":"+bucket]
}

// TotalCalls sums every recorded call against bucket.
func (f *FakeS3) TotalCalls(bucket string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, v := range f.calls {
		if strings.HasSuffix(k, ":"+bucket) {
			n += v
		}
	}
	return n
}

func (f *FakeS3) HasBucket(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Buckets[name]
	return ok
}

func (f *FakeS3) Remaining(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.Buckets[name]; ok {
		return len(b.Versions)
	}
	return 0
}

func (f *FakeS3) record(op, bucket string) int {
	f.calls[op+":"+bucket]++
	return f.calls[op+":"+bucket]
}

func APIError(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg}
}

func noSuchBucket() error {
	return &types.NoSuchBucket{Message: aws.String("The specified bucket does not exist")}
}

func (f *FakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	f.record("HeadBucket", name)
	if err := f.HeadErr[name]; err != nil {
		return nil, err
	}
	if _, ok := f.Buckets[name]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *FakeS3) GetBucketTagging(_ context.Context, in *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	f.record("GetBucketTagging", name)
	b, ok := f.Buckets[name]
	if !ok {
		return nil, noSuchBucket()
	}
	if len(b.Tags) == 0 {
		return nil, APIError("NoSuchTagSet", "The TagSet does not exist")
	}
	out := &s3.GetBucketTaggingOutput{}
	for k, v := range b.Tags {
		out.TagSet = append(out.TagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out, nil
}

func less(a, b Version) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.VersionID < b.VersionID
}

func (f *FakeS3) ListObjectVersions(_ context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	f.record("ListObjectVersions", name)
	if err := f.ListErr[name]; err != nil {
		return nil, err
	}
	b, ok := f.Buckets[name]
	if !ok {
		return nil, noSuchBucket()
	}

	sort.Slice(b.Versions, func(i, j int) bool { return less(b.Versions[i], b.Versions[j]) })

	start := 0
	if in.KeyMarker != nil {
		marker := Version{Key: aws.ToString(in.KeyMarker), VersionID: aws.ToString(in.VersionIdMarker)}
		start = sort.Search(len(b.Versions), func(i int) bool { return less(marker, b.Versions[i]) })
	}

	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	end := start + limit
	if end > len(b.Versions) {
		end = len(b.Versions)
	}

	out := &s3.ListObjectVersionsOutput{IsTruncated: aws.Bool(end < len(b.Versions))}
	for _, v := range b.Versions[start:end] {
		if v.DeleteMarker {
			out.DeleteMarkers = append(out.DeleteMarkers, types.DeleteMarkerEntry{
				Key: aws.String(v.Key), VersionId: aws.String(v.VersionID),
			})
			continue
		}
		out.Versions = append(out.Versions, types.ObjectVersion{
			Key: aws.String(v.Key), VersionId: aws.String(v.VersionID),
		})
	}
	if end < len(b.Versions) {
		last := b.Versions[end-1]
		out.NextKeyMarker = aws.String(last.Key)
		out.NextVersionIdMarker = aws.String(last.VersionID)
	}
	return out, nil
}

func (f *FakeS3) remove(b *FakeBucket, key, version string) {
	for i, v := range b.Versions {
		if v.Key == key && v.VersionID == version {
			b.Versions = append(b.Versions[:i], b.Versions[i+1:]...)
			return
		}
	}
}

func (f *FakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	call := f.record("DeleteObjects", name)
	if f.DeleteObjectsErr != nil {
		if err := f.DeleteObjectsErr(name, call); err != nil {
			return nil, err
		}
	}
	if in.Delete == nil || len(in.Delete.Objects) == 0 || len(in.Delete.Objects) > 1000 {
		return nil, APIError("MalformedXML", "The XML you provided was not well-formed or did not validate against our published schema")
	}
	b, ok := f.Buckets[name]
	if !ok {
		return nil, noSuchBucket()
	}

	out := &s3.DeleteObjectsOutput{}
	for _, o := range in.Delete.Objects {
		key := aws.ToString(o.Key)
		if err := f.DeleteObjectErr[key]; err != nil {
			out.Errors = append(out.Errors, types.Error{
				Key: o.Key, VersionId: o.VersionId, Code: aws.String("AccessDenied"), Message: aws.String(err.Error()),
			})
			continue
		}
		f.remove(b, key, aws.ToString(o.VersionId))
		out.Deleted = append(out.Deleted, types.DeletedObject{Key: o.Key, VersionId: o.VersionId})
	}
	return out, nil
}

func (f *FakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	f.record("DeleteObject", name)
	key := aws.ToString(in.Key)
	if err := f.DeleteObjectErr[key]; err != nil {
		return nil, err
	}
	b, ok := f.Buckets[name]
	if !ok {
		return nil, noSuchBucket()
	}
	f.remove(b, key, aws.ToString(in.VersionId))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *FakeS3) PutBucketVersioning(_ context.Context, in *s3.PutBucketVersioningInput, _ ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	f.record("PutBucketVersioning", name)
	b, ok := f.Buckets[name]
	if !ok {
		return nil, noSuchBucket()
	}
	if in.VersioningConfiguration != nil {
		b.Versioning = in.VersioningConfiguration.Status
	}
	return &s3.PutBucketVersioningOutput{}, nil
}

func (f *FakeS3) ListMultipartUploads(_ context.Context, in *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	f.record("ListMultipartUploads", name)
	b, ok := f.Buckets[name]
	if !ok {
		return nil, noSuchBucket()
	}

	start := 0
	if in.KeyMarker != nil {
		for i, u := range b.Uploads {
			if u.Key == aws.ToString(in.KeyMarker) && u.UploadID == aws.ToString(in.UploadIdMarker) {
				start = i + 1
				break
			}
		}
	}
	limit := int(aws.ToInt32(in.MaxUploads))
	if limit <= 0 {
		limit = 1000
	}

	out := &s3.ListMultipartUploadsOutput{IsTruncated: aws.Bool(false)}
	for i := start; i < len(b.Uploads); i++ {
		u := b.Uploads[i]
		if u.Aborted {
			continue
		}
		if len(out.Uploads) == limit {
			out.IsTruncated = aws.Bool(true)
			last := out.Uploads[len(out.Uploads)-1]
			out.NextKeyMarker = last.Key
			out.NextUploadIdMarker = last.UploadId
			break
		}
		out.Uploads = append(out.Uploads, types.MultipartUpload{Key: aws.String(u.Key), UploadId: aws.String(u.UploadID)})
	}
	return out, nil
}

func (f *FakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	f.record("AbortMultipartUpload", name)
	b, ok := f.Buckets[name]
	if !ok {
		return nil, noSuchBucket()
	}
	for i, u := range b.Uploads {
		if u.Key == aws.ToString(in.Key) && u.UploadID == aws.ToString(in.UploadId) && !u.Aborted {
			b.Uploads[i].Aborted = true
			return &s3.AbortMultipartUploadOutput{}, nil
		}
	}
	return nil, APIError("NoSuchUpload", "The specified upload does not exist")
}

func (f *FakeS3) DeleteBucket(_ context.Context, in *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	f.record("DeleteBucket", name)
	if err := f.DeleteBucketErr[name]; err != nil {
		return nil, err
	}
	b, ok := f.Buckets[name]
	if !ok {
		return nil, noSuchBucket()
	}
	if len(b.Versions) > 0 {
		return nil, APIError("BucketNotEmpty", "The bucket you tried to delete is not empty")
	}
	delete(f.Buckets, name)
	return &s3.DeleteBucketOutput{}, nil
}

func (f *FakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	// read outside the lock; the body is usually a pipe fed by another goroutine
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	f.record("PutObject", name)
	if _, ok := f.Buckets[name]; !ok {
		return nil, noSuchBucket()
	}
	f.Objects[name+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

// Object returns a PutObject body stored under bucket/key.
func (f *FakeS3) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.Objects[bucket+"/"+key]
	return b, ok
}
