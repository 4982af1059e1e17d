package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// minPartSize is the S3 multipart floor (5 MiB).
const minPartSize int64 = 5 << 20

// Writer implements domain.BlobWriter for archived markets.
type Writer struct {
	c *Client
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer over c's bucket and prefix.
func NewWriter(c *Client) *Writer {
	return &Writer{c: c}
}

// Put uploads a small object in one request.
func (w *Writer) Put(ctx context.Context, name string, data io.Reader, contentType string) error {
	if contentType == "" {
		contentType = contentTypeFor(name)
	}
	if _, err := w.c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         w.c.key(name),
		Body:        data,
		ContentType: aws.String(contentType),
	}); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", name, err)
	}
	return nil
}

// PutMultipart streams data through the upload manager. Event logs of long
// markets go through here; partSize is raised to the S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, name string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.c.s3, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         w.c.key(name),
		Body:        data,
		ContentType: aws.String(contentTypeFor(name)),
	}); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", name, err)
	}
	return nil
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
