package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/pkg/anthropic"
)

const analysisJSON = `{
  "market_trends": "strong growth in predictive maintenance",
  "demand_insights": "fleet operators want downtime reduction",
  "top_competitors": "Samsara, Geotab",
  "market_gap_opportunity": "mid-market fleets are underserved",
  "swot_analysis": {"strengths": ["focus"], "weaknesses": ["scale"], "opportunities": ["SMB"], "threats": ["incumbents"]},
  "industry_benchmarks": "15% CAGR",
  "confidence_score": 0.85
}`

func seedSummaries(t *testing.T, f *fixture, n int) {
	t.Helper()
	contents := seedContents(t, f, n)
	for _, c := range contents {
		require.NoError(t, f.store.SetContentSummary(context.Background(), c.ID, "summary of "+c.URL))
	}
}

func TestSynthesize_ProducesCompletedAnalysis(t *testing.T) {
	f := newFixture(t)
	seedSummaries(t, f, 4)

	f.anthropic.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		// The prompt carries the research summaries.
		return len(req.Messages) == 1 && req.MaxTokens == 4096
	})).Return(textResponse(analysisJSON), nil).Once()

	report, err := f.p.synthesize(context.Background(), f.req)

	require.NoError(t, err)
	assert.True(t, report.Success)

	got, _ := f.store.GetAnalysis(context.Background(), f.req.ID)
	require.NotNil(t, got)
	assert.Equal(t, model.AnalysisCompleted, got.Status)
	assert.Equal(t, 0.85, got.ConfidenceScore)
	assert.Equal(t, []string{"focus"}, got.SWOT.Strengths)
	assert.True(t, got.Complete())
}

func TestSynthesize_FallbackHasLowerConfidence(t *testing.T) {
	withResearch := newFixture(t)
	seedSummaries(t, withResearch, 3)
	withResearch.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(analysisJSON), nil).Once()
	_, err := withResearch.p.synthesize(context.Background(), withResearch.req)
	require.NoError(t, err)
	real, _ := withResearch.store.GetAnalysis(context.Background(), withResearch.req.ID)

	// Same backend answer, but no summarized content at all.
	noResearch := newFixture(t)
	noResearch.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(analysisJSON), nil).Once()
	_, err = noResearch.p.synthesize(context.Background(), noResearch.req)
	require.NoError(t, err)
	fallback, _ := noResearch.store.GetAnalysis(context.Background(), noResearch.req.ID)

	assert.Less(t, fallback.ConfidenceScore, real.ConfidenceScore)
	assert.LessOrEqual(t, fallback.ConfidenceScore, fallbackConfidenceCap)
	// Still a completed, watchable analysis.
	assert.True(t, fallback.Complete())
}

func TestSynthesize_ParseFailureDegradesInsteadOfFailing(t *testing.T) {
	f := newFixture(t)
	seedSummaries(t, f, 2)

	raw := "The market is large and growing; competitors include several incumbents."
	f.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(raw), nil).Once()

	report, err := f.p.synthesize(context.Background(), f.req)

	require.NoError(t, err)
	assert.True(t, report.Success)

	got, _ := f.store.GetAnalysis(context.Background(), f.req.ID)
	require.NotNil(t, got)
	assert.Equal(t, raw, got.MarketTrends)
	assert.Equal(t, parseFailureConfidence, got.ConfidenceScore)
	assert.Equal(t, model.AnalysisCompleted, got.Status)
}

func TestSynthesize_UnwrapsFencedJSON(t *testing.T) {
	f := newFixture(t)
	seedSummaries(t, f, 1)

	f.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("```json\n"+analysisJSON+"\n```"), nil).Once()

	_, err := f.p.synthesize(context.Background(), f.req)

	require.NoError(t, err)
	got, _ := f.store.GetAnalysis(context.Background(), f.req.ID)
	assert.Equal(t, "strong growth in predictive maintenance", got.MarketTrends)
}
