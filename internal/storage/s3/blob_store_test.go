package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

const (
	bucket       = "lake"
	lastModified = "Fri, 14 Mar 2025 09:30:00 GMT"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	headers map[string]http.Header
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/"+bucket)
	key := strings.TrimPrefix(path, "/")

	switch {
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.headers[key] = r.Header.Clone()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key == "":
		f.writeListing(w, r.URL.Query().Get("prefix"))
	case r.Method == http.MethodHead || r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key><BucketName>%s</BucketName></Error>`, key, bucket)
			}
			return
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", lastModified)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) writeListing(w http.ResponseWriter, prefix string) {
	var b strings.Builder
	count := 0
	for key, data := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		count++
		fmt.Fprintf(&b, `<Contents><Key>%s</Key><LastModified>2025-03-14T09:30:00.000Z</LastModified><ETag>"x"</ETag><Size>%d</Size><StorageClass>STANDARD</StorageClass></Contents>`, key, len(data))
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>%s</ListBucketResult>`,
		bucket, prefix, count, b.String())
}

func newTestStore(t *testing.T) (*BlobStore, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: map[string][]byte{}, headers: map[string]http.Header{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := New(Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		Bucket:    bucket,
		Region:    "us-east-1",
		AccessKey: "access",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	return store, fake
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Bucket: bucket})
	require.Error(t, err)
	_, err = New(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
}

func TestPutHeadGet(t *testing.T) {
	t.Parallel()

	store, fake := newTestStore(t)
	ctx := context.Background()
	key := "scraped-content/patti_smith/review/pitchfork.json"

	uri, err := store.PutObject(ctx, key, "application/json", []byte(`{"id":"rec-1"}`), map[string]string{"artist": "patti_smith"})
	require.NoError(t, err)
	assert.Equal(t, "s3://lake/"+key, uri)

	fake.mu.Lock()
	assert.Contains(t, string(fake.objects[key]), `{"id":"rec-1"}`)
	assert.Equal(t, "patti_smith", fake.headers[key].Get("X-Amz-Meta-Artist"))
	fake.mu.Unlock()

	exists, err := store.HeadObject(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.HeadObject(ctx, "scraped-content/missing.json")
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := store.GetObject(ctx, key)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"id":"rec-1"}`)

	_, err = store.GetObject(ctx, "scraped-content/missing.json")
	require.ErrorIs(t, err, content.ErrObjectNotFound)
}

func TestListObjects(t *testing.T) {
	t.Parallel()

	store, fake := newTestStore(t)
	fake.objects["scraped-content/a/review/1.json"] = []byte("{}")
	fake.objects["manifests/scraped/pitchfork/batch_1.json"] = []byte("{}")

	keys, err := store.ListObjects(context.Background(), "scraped-content/")
	require.NoError(t, err)
	assert.Equal(t, []string{"scraped-content/a/review/1.json"}, keys)
}
