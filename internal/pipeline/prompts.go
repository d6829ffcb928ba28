package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/marketsense/internal/model"
)

const queryGenSystem = `You are a market research assistant. Given a product requirement, produce web search queries that will surface market size, competitors, demand signals and industry benchmarks. Respond with a JSON array of exactly 5 query strings and nothing else.`

func queryGenPrompt(req *model.Requirement) string {
	var b strings.Builder
	b.WriteString("Generate exactly 5 web search queries for market research on this product requirement.\n\n")
	fmt.Fprintf(&b, "Industry: %s\n", req.Industry)
	fmt.Fprintf(&b, "Problem statement: %s\n", req.ProblemStatement)
	fmt.Fprintf(&b, "Proposed solution: %s\n", req.ProposedSolution)
	fmt.Fprintf(&b, "Key features: %s\n", req.KeyFeatures)
	b.WriteString("\nRespond with a JSON array of 5 strings.")
	return b.String()
}

const summarizeSystem = `You are a market research analyst. Summarize the given web page content into the facts relevant to market analysis: market size, growth, competitors, pricing, demand and trends. Be concise and factual. Ignore navigation, ads and boilerplate.`

func summarizePrompt(req *model.Requirement, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research context: %s industry, problem: %s\n\n", req.Industry, req.ProblemStatement)
	b.WriteString("Summarize the following page content in 3-5 sentences, keeping only facts useful for market analysis:\n\n")
	b.WriteString(content)
	return b.String()
}

const synthesizeSystem = `You are a market research analyst producing a structured market analysis. Respond with a single JSON object matching exactly this schema and nothing else:
{
  "market_trends": string,
  "demand_insights": string,
  "top_competitors": string,
  "market_gap_opportunity": string,
  "swot_analysis": {"strengths": [string], "weaknesses": [string], "opportunities": [string], "threats": [string]},
  "industry_benchmarks": string,
  "confidence_score": number between 0 and 1
}`

func synthesizePrompt(req *model.Requirement, research string) string {
	var b strings.Builder
	b.WriteString("Produce a market analysis for this product requirement.\n\n")
	fmt.Fprintf(&b, "Industry: %s\n", req.Industry)
	fmt.Fprintf(&b, "Problem statement: %s\n", req.ProblemStatement)
	fmt.Fprintf(&b, "Proposed solution: %s\n", req.ProposedSolution)
	fmt.Fprintf(&b, "Key features: %s\n\n", req.KeyFeatures)
	b.WriteString("Research summaries:\n")
	b.WriteString(research)
	return b.String()
}

// unwrapCodeFence strips a surrounding markdown code fence (with optional
// language tag) from a model response so the JSON inside can be parsed.
func unwrapCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
