package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/pkg/anthropic"
)

func seedContents(t *testing.T, f *fixture, n int) []model.ScrapedContent {
	t.Helper()
	contents := make([]model.ScrapedContent, n)
	for i := range contents {
		contents[i] = model.ScrapedContent{
			RequirementID: f.req.ID,
			SourceID:      fmt.Sprintf("src-%d", i),
			URL:           fmt.Sprintf("https://s%d.example", i),
			Content:       fmt.Sprintf("page body %d", i),
			Status:        model.ContentPendingSummary,
		}
	}
	require.NoError(t, f.store.InsertContents(context.Background(), contents))
	return contents
}

func TestSummarizeBatch_ProcessesBatchAndReportsRemaining(t *testing.T) {
	f := newFixture(t)
	seedContents(t, f, 10)

	f.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("a focused summary"), nil).Times(3)

	run := model.NewRun(f.req.ID)
	report, err := f.p.summarizeBatch(context.Background(), f.req, run)

	require.NoError(t, err)
	assert.Equal(t, 3, report.ItemsProduced)
	assert.Equal(t, 7, report.Remaining)

	summarized, _ := f.store.CountContents(context.Background(), f.req.ID, model.ContentSummarized)
	assert.Equal(t, 3, summarized)
	f.anthropic.AssertExpectations(t)
}

func TestSummarizeAll_DrainsToZero(t *testing.T) {
	f := newFixture(t)
	seedContents(t, f, 10)

	f.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("summary"), nil).Times(10)

	run := model.NewRun(f.req.ID)
	report, err := f.p.summarizeAll(context.Background(), f.req, run)

	require.NoError(t, err)
	assert.Equal(t, 10, report.ItemsProduced)

	remaining, _ := f.store.CountContents(context.Background(), f.req.ID, model.ContentPendingSummary)
	assert.Zero(t, remaining)

	stage := run.Stage(model.StageSummarize)
	assert.Equal(t, 10, stage.Current)
	assert.Equal(t, 10, stage.Total)
}

func TestSummarizeBatch_ItemFailureDoesNotBlockSiblings(t *testing.T) {
	f := newFixture(t)
	seedContents(t, f, 3)

	f.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("summary one"), nil).Once()
	f.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: 400, Body: "content too long"}).Once()
	f.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("summary three"), nil).Once()

	run := model.NewRun(f.req.ID)
	report, err := f.p.summarizeBatch(context.Background(), f.req, run)

	require.NoError(t, err)
	assert.Equal(t, 2, report.ItemsProduced)
	assert.Zero(t, report.Remaining)

	errored, _ := f.store.CountContents(context.Background(), f.req.ID, model.ContentError)
	assert.Equal(t, 1, errored)
}

func TestSummarizeAll_BoundedWhenStoreNeverConverges(t *testing.T) {
	f := newFixture(t)
	seedContents(t, f, 4)
	f.p.cfg.Pipeline.MaxSummarizeBatches = 2
	f.p.cfg.Pipeline.SummaryBatchSize = 1

	f.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("summary"), nil)

	run := model.NewRun(f.req.ID)
	_, err := f.p.summarizeAll(context.Background(), f.req, run)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "still pending")
}

func TestSummarizeBatch_EmptyPendingIsNoop(t *testing.T) {
	f := newFixture(t)

	run := model.NewRun(f.req.ID)
	report, err := f.p.summarizeBatch(context.Background(), f.req, run)

	require.NoError(t, err)
	assert.Zero(t, report.ItemsProduced)
	assert.Zero(t, report.Remaining)
}
