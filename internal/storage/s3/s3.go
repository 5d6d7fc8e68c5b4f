package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ PutAPI = (*s3.Client)(nil)

type Storage struct {
	name   string
	bucket string
	prefix string
	client PutAPI
}

type Options struct {
	Name   string
	Bucket string
	Prefix string
}

func New(opt Options, client PutAPI) (*Storage, error) {
	if opt.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	if client == nil {
		return nil, fmt.Errorf("s3: client is required")
	}

	return &Storage{
		name:   opt.Name,
		bucket: opt.Bucket,
		prefix: strings.Trim(opt.Prefix, "/"),
		client: client,
	}, nil
}

func (s *Storage) Name() string {
	return s.name
}

func (s *Storage) OpenWriter(ctx context.Context, key string) (io.WriteCloser, string, error) {
	// PutObject reads from pr while the caller writes to pw.
	pr, pw := io.Pipe()

	fullKey := key
	if s.prefix != "" {
		fullKey = path.Join(s.prefix, key)
	}
	loc := fmt.Sprintf("s3://%s/%s", s.bucket, fullKey)

	w := &uploadWriter{
		pw:   pw,
		done: make(chan error, 1),
	}

	go func() {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(fullKey),
			Body:        pr,
			ContentType: aws.String(contentType(fullKey)),
		})

		// unblock a writer still pushing into the pipe
		_ = pr.CloseWithError(err)

		if err != nil {
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) {
				w.done <- fmt.Errorf("s3 put object failed: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
				return
			}
			w.done <- fmt.Errorf("s3 put object failed: %w", err)
			return
		}
		w.done <- nil
	}()

	return w, loc, nil
}

func contentType(key string) string {
	if strings.HasSuffix(strings.ToLower(key), ".xlsx") {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

type uploadWriter struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close signals EOF and waits for the upload to finish.
func (w *uploadWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	_ = w.pw.Close()
	return <-w.done
}
