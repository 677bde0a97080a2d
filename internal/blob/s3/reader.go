package s3blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/oraclebot/internal/domain"
)

// Reader implements domain.BlobReader on the same bucket and prefix as a
// Writer.
type Reader struct {
	client *Client
	prefix string
}

// NewReader creates a Reader. prefix must match the Writer's so both resolve
// a path to the same key.
func NewReader(client *Client, prefix string) *Reader {
	return &Reader{client: client, prefix: strings.Trim(prefix, "/")}
}

// Get returns the object body at path. The caller closes it. A missing object
// yields domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.client.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.client.bucket),
		Key:    aws.String(joinKey(r.prefix, path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

var _ domain.BlobReader = (*Reader)(nil)
