package s3blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/store/memory"
)

// fakeBucket is a path-style S3 endpoint that keeps objects in memory.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
	missing bool
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if strings.Count(strings.TrimSuffix(r.URL.Path, "/"), "/") == 1 && !f.missing {
			w.WriteHeader(http.StatusOK)
			return
		}
		if _, ok := f.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		_, _ = io.WriteString(w, body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string]string{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	client, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "evidence-bucket",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	return client, bucket
}

func TestWriterPutAndExists(t *testing.T) {
	client, bucket := newTestClient(t)
	w := NewWriter(client, "oraclebot")
	ctx := context.Background()

	ok, err := w.Exists(ctx, "evidence/0xabc.json")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, w.Put(ctx, "evidence/0xabc.json", strings.NewReader(`{"marketId":"m1"}`), "application/json"))

	ok, err = w.Exists(ctx, "evidence/0xabc.json")
	require.NoError(t, err)
	assert.True(t, ok)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	assert.Equal(t, `{"marketId":"m1"}`, bucket.objects["/evidence-bucket/oraclebot/evidence/0xabc.json"])
}

func TestReaderGetUsesWriterKeys(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	w := NewWriter(client, "oraclebot")
	r := NewReader(client, "/oraclebot/")
	require.NoError(t, w.Put(ctx, "evidence/0xdef.json", strings.NewReader(`{"question":"q"}`), "application/json"))

	body, err := r.Get(ctx, "evidence/0xdef.json")
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, `{"question":"q"}`, string(got))

	_, err = r.Get(ctx, "evidence/0xmissing.json")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClientPing(t *testing.T) {
	client, bucket := newTestClient(t)
	require.NoError(t, client.Ping(context.Background()))

	bucket.mu.Lock()
	bucket.missing = true
	bucket.mu.Unlock()
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evidence-bucket")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}

func TestArchiveAuditUploadsThenPrunes(t *testing.T) {
	client, bucket := newTestClient(t)
	ctx := context.Background()

	audit := memory.NewAuditStore()
	require.NoError(t, audit.Log(ctx, "dispute_submitted", map[string]any{"dispute_id": 7}))
	require.NoError(t, audit.Log(ctx, "reward_claimed", map[string]any{"dispute_id": 7}))

	cutoff := time.Now().Add(time.Second).UTC()
	a := NewArchiver(NewWriter(client, "oraclebot"), audit)
	n, err := a.ArchiveAudit(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Only the archive run's own entry is left.
	assert.Equal(t, []string{"archive.audit"}, audit.Events())

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	body := bucket.objects["/evidence-bucket/oraclebot/archive/audit/"+cutoff.Format("2006-01-02")+".jsonl"]
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"reward_claimed"`)
	assert.Contains(t, lines[1], `"event":"dispute_submitted"`)
}

func TestArchiveAuditNothingToDo(t *testing.T) {
	client, bucket := newTestClient(t)
	audit := memory.NewAuditStore()

	n, err := NewArchiver(NewWriter(client, ""), audit).ArchiveAudit(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bucket.objects)
	assert.Empty(t, audit.Events())
}
