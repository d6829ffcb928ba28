package model

import "time"

// AnalysisStatus is the overall terminal status of a market analysis.
type AnalysisStatus string

const (
	AnalysisDraft     AnalysisStatus = "Draft"
	AnalysisCompleted AnalysisStatus = "Completed"
)

// SWOTAnalysis holds the four SWOT quadrants.
type SWOTAnalysis struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

// MarketAnalysisResult is the terminal artifact of a pipeline run, upserted
// by the synthesize stage and watched for completion. The JSON field names
// match the synthesis schema returned by the generation backend.
type MarketAnalysisResult struct {
	RequirementID        string         `json:"requirement_id"`
	MarketTrends         string         `json:"market_trends"`
	DemandInsights       string         `json:"demand_insights"`
	TopCompetitors       string         `json:"top_competitors"`
	MarketGapOpportunity string         `json:"market_gap_opportunity"`
	SWOT                 SWOTAnalysis   `json:"swot_analysis"`
	IndustryBenchmarks   string         `json:"industry_benchmarks"`
	ConfidenceScore      float64        `json:"confidence_score"`
	Status               AnalysisStatus `json:"status"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Complete reports whether the analysis has reached its terminal state with
// real content. The completion watcher keys off this.
func (m *MarketAnalysisResult) Complete() bool {
	return m != nil && m.Status == AnalysisCompleted && m.MarketTrends != ""
}
