package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchScrape_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/batch/scrape", r.URL.Path)
		assert.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))

		var req BatchScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, req.URLs)
		assert.Equal(t, []string{"markdown"}, req.Formats)

		json.NewEncoder(w).Encode(BatchScrapeResponse{Success: true, ID: "batch-1"})
	}))
	defer srv.Close()

	c := NewClient("fc-key", WithBaseURL(srv.URL))
	resp, err := c.BatchScrape(context.Background(), BatchScrapeRequest{
		URLs:    []string{"https://a.example", "https://b.example"},
		Formats: []string{"markdown"},
	})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "batch-1", resp.ID)
}

func TestGetBatchScrapeStatus_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	c := NewClient("fc-key", WithBaseURL(srv.URL))
	_, err := c.GetBatchScrapeStatus(context.Background(), "batch-1")

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestPageData_RequestURL(t *testing.T) {
	withMeta := PageData{URL: "https://final.example/redirected", Metadata: PageMetadata{SourceURL: "https://orig.example"}}
	assert.Equal(t, "https://orig.example", withMeta.RequestURL())

	// Positional fallback when the metadata field is absent.
	noMeta := PageData{URL: "https://final.example"}
	assert.Equal(t, "https://final.example", noMeta.RequestURL())
}
