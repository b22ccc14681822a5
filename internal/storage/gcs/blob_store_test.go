package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const bucketName = "test-bucket"

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: bucketName})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: bucketName})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithMetadata(t *testing.T) {
	t.Parallel()

	key := "scraped-content/patti_smith/review/pitchfork.json"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucketName))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `{"id":"rec-1"}`)
		assert.Contains(t, string(body), `"artist":"patti_smith"`)
		assert.Contains(t, string(body), key)

		_, _ = fmt.Fprintf(w, `{"name":%q,"bucket":%q}`, key, bucketName)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), key, "application/json",
		[]byte(`{"id":"rec-1"}`), map[string]string{"artist": "patti_smith"})
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/"+key, uri)
}

func TestPutObjectError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "k.json", "application/json", []byte("{}"), nil)
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "application/json", []byte("{}"), nil)
	require.Error(t, err)
}

func TestHeadObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/o/exists.json"):
			_, _ = fmt.Fprintf(w, `{"name":"exists.json","bucket":%q}`, bucketName)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprint(w, `{"error":{"code":404,"message":"Not Found"}}`)
		}
	})
	store := newTestStore(t, handler)

	exists, err := store.HeadObject(context.Background(), "exists.json")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.HeadObject(context.Background(), "missing.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListObjects(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, fmt.Sprintf("/b/%s/o", bucketName)))
		assert.Equal(t, "scraped-content/", r.URL.Query().Get("prefix"))
		_, _ = fmt.Fprint(w, `{"kind":"storage#objects","items":[
			{"name":"scraped-content/a/review/1.json","bucket":"test-bucket"},
			{"name":"scraped-content/b/news/2.json","bucket":"test-bucket"}]}`)
	})
	store := newTestStore(t, handler)

	keys, err := store.ListObjects(context.Background(), "scraped-content/")
	require.NoError(t, err)
	assert.Equal(t, []string{"scraped-content/a/review/1.json", "scraped-content/b/news/2.json"}, keys)
}
