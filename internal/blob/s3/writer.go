package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// Writer implements domain.BlobWriter on a single bucket. Keys are prefixed
// with an optional namespace.
type Writer struct {
	client *Client
	prefix string
}

// NewWriter creates a Writer. A non-empty prefix is joined to every key with
// a slash.
func NewWriter(client *Client, prefix string) *Writer {
	return &Writer{client: client, prefix: strings.Trim(prefix, "/")}
}

func (w *Writer) key(path string) string {
	return joinKey(w.prefix, path)
}

func joinKey(prefix, path string) string {
	path = strings.TrimPrefix(path, "/")
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}

// Put uploads data to path. Non-seekable readers are buffered first since
// the SDK needs to checksum the body.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	body, ok := data.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(data)
		if err != nil {
			return fmt.Errorf("s3blob: read body for %s: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(w.client.bucket),
		Key:    aws.String(w.key(path)),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := w.client.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// Exists reports whether an object is stored at path.
func (w *Writer) Exists(ctx context.Context, path string) (bool, error) {
	_, err := w.client.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(w.client.bucket),
		Key:    aws.String(w.key(path)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3blob: head %s: %w", path, err)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobWriter = (*Writer)(nil)
