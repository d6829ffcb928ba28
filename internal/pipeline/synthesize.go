package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketsense/internal/model"
	"github.com/sells-group/marketsense/pkg/anthropic"
)

// fallbackConfidenceCap is the ceiling applied when the synthesis ran without
// any real research content and had to rely on generic industry knowledge.
const fallbackConfidenceCap = 0.35

// parseFailureConfidence is assigned when the backend's response was not
// valid JSON and the raw text is embedded instead of structured fields.
const parseFailureConfidence = 0.2

// synthesize aggregates every summary into the final market analysis and
// upserts it with status Completed. With no summarized content it falls back
// to generic industry knowledge at a materially lower confidence; a response
// that fails to parse degrades to raw text rather than failing the run.
func (p *Pipeline) synthesize(ctx context.Context, req *model.Requirement) (*StageReport, error) {
	summarized, err := p.store.ListContents(ctx, req.ID, model.ContentSummarized, 0)
	if err != nil {
		return nil, eris.Wrap(err, "synthesize: list summaries")
	}

	fallback := len(summarized) == 0
	research := buildResearchDigest(summarized)
	if fallback {
		zap.L().Warn("synthesize: no summarized content, falling back to industry knowledge",
			zap.String("requirement_id", req.ID),
		)
		research = fmt.Sprintf("No web research is available. Use your general knowledge of the %s industry and state clearly that the analysis is not backed by current research.", req.Industry)
	}

	resp, err := callService(ctx, p, serviceAnthropic, "synthesize", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     p.cfg.Anthropic.Model,
			MaxTokens: p.cfg.Anthropic.MaxSynthTokens,
			System:    synthesizeSystem,
			Messages:  []anthropic.Message{{Role: "user", Content: synthesizePrompt(req, research)}},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "synthesize")
	}
	p.logModelCost("synthesize", resp.Usage)

	result := parseAnalysis(resp.Text())
	result.RequirementID = req.ID
	result.Status = model.AnalysisCompleted
	if fallback && result.ConfidenceScore > fallbackConfidenceCap {
		result.ConfidenceScore = fallbackConfidenceCap
	}

	if err := p.store.UpsertAnalysis(ctx, result); err != nil {
		return nil, eris.Wrap(err, "synthesize: persist analysis")
	}

	return &StageReport{
		Success:       true,
		Message:       fmt.Sprintf("market analysis completed (confidence %.2f, %d summaries)", result.ConfidenceScore, len(summarized)),
		ItemsProduced: 1,
	}, nil
}

func buildResearchDigest(contents []model.ScrapedContent) string {
	var b strings.Builder
	for i, c := range contents {
		fmt.Fprintf(&b, "Source %d (%s):\n%s\n\n", i+1, c.URL, c.Summary)
	}
	return b.String()
}

// parseAnalysis decodes the synthesis response. A response that is not valid
// JSON after unwrapping degrades to the raw text embedded as the trends field
// with a floor confidence, rather than failing the stage.
func parseAnalysis(raw string) *model.MarketAnalysisResult {
	unwrapped := unwrapCodeFence(raw)

	var result model.MarketAnalysisResult
	if err := json.Unmarshal([]byte(unwrapped), &result); err == nil && result.MarketTrends != "" {
		return &result
	}

	zap.L().Warn("synthesize: response was not valid JSON, degrading to raw text")
	return &model.MarketAnalysisResult{
		MarketTrends:    unwrapped,
		ConfidenceScore: parseFailureConfidence,
	}
}
