package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/httpx"
)

func newTestSerper(t *testing.T, handler http.HandlerFunc) *SerperClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pool := httpx.NewPool(4, zap.NewNop())
	t.Cleanup(pool.Close)

	return NewSerperClient(srv.URL, "test-key", 5*time.Second, pool, zap.NewNop())
}

func TestQueryParsesOrganicResults(t *testing.T) {
	c := newTestSerper(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "kras g12c", req["q"])
		assert.EqualValues(t, 10, req["num"])

		_, _ = w.Write([]byte(`{
			"organic": [
				{"title": "Sotorasib", "link": "https://pubmed.ncbi.nlm.nih.gov/34096690/", "snippet": "KRAS G12C inhibitor"},
				{"title": "Adagrasib", "link": "https://www.nature.com/articles/x", "snippet": "phase 2"}
			],
			"knowledgeGraph": {"title": "KRAS", "type": "Gene", "description": "GTPase"},
			"answerBox": {"answer": "a GTPase oncogene"}
		}`))
	})

	res, err := c.Query(context.Background(), "kras g12c", 10)
	require.NoError(t, err)
	require.Len(t, res.Organic, 2)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/34096690/", res.Organic[0].Link)
	assert.Equal(t, "a GTPase oncogene", res.AnswerBox)
	assert.Contains(t, res.KnowledgeGraph, "KRAS (Gene): GTPase")
}

func TestQueryClampsResultCount(t *testing.T) {
	c := newTestSerper(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 25, req["num"])
		_, _ = w.Write([]byte(`{"organic": []}`))
	})

	_, err := c.Query(context.Background(), "q", 100)
	require.NoError(t, err)
}

func TestQuerySurfacesProviderFailure(t *testing.T) {
	c := newTestSerper(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.Query(context.Background(), "q", 10)
	assert.ErrorIs(t, err, ErrSearchFailed)
}
