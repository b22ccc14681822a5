package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	meta := map[string]string{"artist": "patti_smith"}
	uri, err := store.PutObject(context.Background(), "scraped-content/a.json", "application/json", payload, meta)
	require.NoError(t, err)
	assert.Equal(t, "memory://scraped-content/a.json", uri)

	payload[0] = 'C'
	meta["artist"] = "changed"
	obj, ok := store.Object("scraped-content/a.json")
	require.True(t, ok)
	assert.Equal(t, "content", string(obj.Data))
	assert.Equal(t, "patti_smith", obj.Metadata["artist"])
	assert.Equal(t, "application/json", obj.ContentType)
}

func TestBlobStoreHeadGetList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBlobStore()
	for _, key := range []string{"manifests/x.json", "scraped-content/b/2.json", "scraped-content/a/1.json"} {
		_, err := store.PutObject(ctx, key, "application/json", []byte(key), nil)
		require.NoError(t, err)
	}

	exists, err := store.HeadObject(ctx, "scraped-content/a/1.json")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = store.HeadObject(ctx, "scraped-content/a/9.json")
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := store.GetObject(ctx, "manifests/x.json")
	require.NoError(t, err)
	assert.Equal(t, "manifests/x.json", string(data))
	_, err = store.GetObject(ctx, "missing")
	require.ErrorIs(t, err, content.ErrObjectNotFound)

	keys, err := store.ListObjects(ctx, "scraped-content/")
	require.NoError(t, err)
	assert.Equal(t, []string{"scraped-content/a/1.json", "scraped-content/b/2.json"}, keys)
	assert.Equal(t, 3, store.Len())

	_, err = store.PutObject(ctx, " ", "", nil, nil)
	require.Error(t, err)
}
