package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/pkg/serper"
)

func seedQueries(t *testing.T, f *fixture, texts ...string) []model.Query {
	t.Helper()
	queries := make([]model.Query, len(texts))
	for i, text := range texts {
		queries[i] = model.Query{RequirementID: f.req.ID, Text: text, Status: model.QueryPending}
	}
	require.NoError(t, f.store.InsertQueries(context.Background(), queries))
	return queries
}

func organic(urls ...string) *serper.SearchResponse {
	resp := &serper.SearchResponse{}
	for _, u := range urls {
		resp.Organic = append(resp.Organic, serper.OrganicResult{Title: "t", Link: u, Snippet: "s"})
	}
	return resp
}

func TestSearch_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	seedQueries(t, f, "q1", "q2", "q3", "q4", "q5")

	for _, q := range []string{"q1", "q2", "q4", "q5"} {
		f.serper.On("Search", mock.Anything, q, 5).
			Return(organic("https://"+q+".example"), nil).Once()
	}
	f.serper.On("Search", mock.Anything, "q3", 5).
		Return(nil, &serper.APIError{StatusCode: 403, Body: "forbidden"}).Once()

	run := model.NewRun(f.req.ID)
	report, err := f.p.search(context.Background(), f.req, run)

	require.NoError(t, err)
	assert.Equal(t, 4, report.ItemsProduced)

	queries, _ := f.store.ListQueries(context.Background(), f.req.ID, "")
	byText := map[string]model.QueryStatus{}
	for _, q := range queries {
		byText[q.Text] = q.Status
	}
	assert.Equal(t, model.QueryError, byText["q3"])
	for _, text := range []string{"q1", "q2", "q4", "q5"} {
		assert.Equal(t, model.QuerySearched, byText[text])
	}

	// Sources exist only for the successful queries.
	sources, _ := f.store.ListSources(context.Background(), f.req.ID, "")
	assert.Len(t, sources, 4)
	f.serper.AssertExpectations(t)
}

func TestSearch_AllQueriesFailingFailsStage(t *testing.T) {
	f := newFixture(t)
	seedQueries(t, f, "q1", "q2")
	f.serper.On("Search", mock.Anything, mock.Anything, 5).
		Return(nil, &serper.APIError{StatusCode: 500, Body: "boom"})

	run := model.NewRun(f.req.ID)
	_, err := f.p.search(context.Background(), f.req, run)

	require.Error(t, err)
	queries, _ := f.store.ListQueries(context.Background(), f.req.ID, model.QueryError)
	assert.Len(t, queries, 2)
}

func TestSearch_SkipsAlreadySearchedQueries(t *testing.T) {
	f := newFixture(t)
	queries := seedQueries(t, f, "done", "todo")
	require.NoError(t, f.store.UpdateQueryStatus(context.Background(), queries[0].ID, model.QuerySearched))

	f.serper.On("Search", mock.Anything, "todo", 5).
		Return(organic("https://todo.example"), nil).Once()

	run := model.NewRun(f.req.ID)
	_, err := f.p.search(context.Background(), f.req, run)

	require.NoError(t, err)
	f.serper.AssertNotCalled(t, "Search", mock.Anything, "done", 5)
	f.serper.AssertExpectations(t)
}

func TestSearch_NoPendingQueriesIsNoop(t *testing.T) {
	f := newFixture(t)

	run := model.NewRun(f.req.ID)
	report, err := f.p.search(context.Background(), f.req, run)

	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Zero(t, report.ItemsProduced)
}

func TestSearch_UpdatesSubProgress(t *testing.T) {
	f := newFixture(t)
	seedQueries(t, f, "q1", "q2", "q3")
	f.serper.On("Search", mock.Anything, mock.Anything, 5).
		Return(organic("https://r.example"), nil)

	run := model.NewRun(f.req.ID)
	_, err := f.p.search(context.Background(), f.req, run)

	require.NoError(t, err)
	stage := run.Stage(model.StageSearch)
	assert.Equal(t, 3, stage.Current)
	assert.Equal(t, 3, stage.Total)
}
