package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

func TestStaticDiscover(t *testing.T) {
	t.Parallel()

	urls := map[content.Source][]string{
		content.SourcePitchfork: {"https://pitchfork.com/reviews/albums/a/", "https://pitchfork.com/reviews/albums/b/"},
		"local_zine":            {"https://zine.example/post/1"},
	}
	d := NewStatic(urls)
	urls[content.SourcePitchfork][0] = "mutated"

	tests := []struct {
		name    string
		source  content.Source
		want    []string
		wantErr bool
	}{
		{name: "configured", source: content.SourcePitchfork, want: []string{"https://pitchfork.com/reviews/albums/a/", "https://pitchfork.com/reviews/albums/b/"}},
		{name: "custom source", source: "local_zine", want: []string{"https://zine.example/post/1"}},
		{name: "known but empty", source: content.SourceNPR, want: []string{}},
		{name: "unknown", source: "myspace", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := d.Discover(context.Background(), tt.source)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.URLs)
			assert.Equal(t, MethodStatic, got.Method)
			assert.InDelta(t, 1.0, got.Confidence, 1e-9)
		})
	}
}

func TestStaticDiscoverCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStatic(nil).Discover(ctx, content.SourceNPR)
	require.ErrorIs(t, err, context.Canceled)
}
