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

// queryCount is a hard contract: later stages derive progress totals from it.
const queryCount = 5

// generateQueries asks the generation backend for search queries and persists
// exactly queryCount of them, padding with industry fallbacks or truncating
// as needed.
func (p *Pipeline) generateQueries(ctx context.Context, req *model.Requirement) (*StageReport, error) {
	resp, err := callService(ctx, p, serviceAnthropic, "generate queries", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     p.cfg.Anthropic.Model,
			MaxTokens: p.cfg.Anthropic.MaxTokens,
			System:    queryGenSystem,
			Messages:  []anthropic.Message{{Role: "user", Content: queryGenPrompt(req)}},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "generate queries")
	}
	p.logModelCost("generate_queries", resp.Usage)

	texts, err := parseQueryList(resp.Text())
	if err != nil {
		// Parse failure is a stage failure here; only synthesis degrades.
		return nil, eris.Wrap(err, "generate queries: parse response")
	}

	texts = normalizeQueryCount(texts, req.Industry)

	queries := make([]model.Query, len(texts))
	for i, text := range texts {
		queries[i] = model.Query{
			RequirementID: req.ID,
			Text:          text,
			Status:        model.QueryPending,
		}
	}
	if err := p.store.InsertQueries(ctx, queries); err != nil {
		return nil, eris.Wrap(err, "generate queries: persist")
	}

	zap.L().Info("generated queries",
		zap.String("requirement_id", req.ID),
		zap.Int("count", len(queries)),
	)
	return &StageReport{
		Success:       true,
		Message:       fmt.Sprintf("generated %d search queries", len(queries)),
		ItemsProduced: len(queries),
	}, nil
}

func parseQueryList(raw string) ([]string, error) {
	raw = unwrapCodeFence(raw)

	var texts []string
	if err := json.Unmarshal([]byte(raw), &texts); err != nil {
		return nil, eris.Wrap(err, "expected JSON array of strings")
	}

	out := texts[:0]
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

// normalizeQueryCount pads with generic industry queries or truncates so the
// result is always exactly queryCount entries.
func normalizeQueryCount(texts []string, industry string) []string {
	if len(texts) > queryCount {
		return texts[:queryCount]
	}
	for _, fb := range fallbackQueries(industry) {
		if len(texts) >= queryCount {
			break
		}
		if !containsFold(texts, fb) {
			texts = append(texts, fb)
		}
	}
	return texts
}

func fallbackQueries(industry string) []string {
	if industry = strings.TrimSpace(industry); industry == "" {
		industry = "technology"
	}
	return []string{
		fmt.Sprintf("%s industry market size and growth rate", industry),
		fmt.Sprintf("top companies in the %s industry", industry),
		fmt.Sprintf("%s industry trends and forecast", industry),
		fmt.Sprintf("%s customer demand and pain points", industry),
		fmt.Sprintf("%s industry benchmarks and statistics", industry),
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
