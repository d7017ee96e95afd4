package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarstream/paperboy/internal/catalog"
	"github.com/scholarstream/paperboy/internal/logging"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, logging.NewTestLogger().Logger)
}

func TestIndexPapers(t *testing.T) {
	var gotBody struct {
		Papers []catalog.Paper `json:"papers"`
	}
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/index_papers", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(IndexResult{
			Indexed:       []string{"2608.01234"},
			AlreadyExists: []string{"2608.05678"},
			Failed:        []DocError{{DocID: "2608.09999", Error: "empty abstract"}},
		})
	}))

	papers := []catalog.Paper{
		{DocID: "2608.01234", Title: "One", ContentChunks: []string{"intro", "method"}},
	}
	result, err := client.IndexPapers(context.Background(), papers)
	require.NoError(t, err)

	assert.Equal(t, []string{"2608.01234"}, result.Indexed)
	assert.Equal(t, []string{"2608.05678"}, result.AlreadyExists)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "empty abstract", result.Failed[0].Error)

	require.Len(t, gotBody.Papers, 1)
	assert.Equal(t, []string{"intro", "method"}, gotBody.Papers[0].ContentChunks)
}

func TestFindSimilar(t *testing.T) {
	var gotBody map[string]any
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/find_similar", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"matches": []Match{
				{DocID: "2608.01234", Score: 0.92},
			},
		})
	}))

	matches, err := client.FindSimilar(context.Background(), "diffusion models", SearchOptions{
		Strategies: []Strategy{{Name: "semantic", Threshold: 0.35}},
		TopK:       5,
		Filters: Filters{
			Include: FilterSet{Categories: []string{"cs.CV"}, PublishedAfter: "2026-08-31"},
		},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "2608.01234", matches[0].DocID)
	assert.InDelta(t, 0.92, matches[0].Score, 1e-9)

	// Query and options travel flattened in one request object.
	assert.Equal(t, "diffusion models", gotBody["query"])
	assert.EqualValues(t, 5, gotBody["top_k"])
	filters, ok := gotBody["filters"].(map[string]any)
	require.True(t, ok)
	include, ok := filters["include"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2026-08-31", include["published_after"])
}
