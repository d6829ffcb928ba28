package model

import "time"

// QueryStatus tracks a generated search query through the search stage.
type QueryStatus string

const (
	QueryPending  QueryStatus = "pending"
	QuerySearched QueryStatus = "searched"
	QueryError    QueryStatus = "error"
)

// Query is one generated search query tied to a requirement. Created in bulk
// by the generate-queries stage, consumed by the search stage.
type Query struct {
	ID            string      `json:"id"`
	RequirementID string      `json:"requirement_id"`
	Text          string      `json:"text"`
	Status        QueryStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// SourceStatus tracks a discovered source through the scrape stage.
type SourceStatus string

const (
	SourceFound         SourceStatus = "found"
	SourcePendingScrape SourceStatus = "pending_scrape"
	SourceScraped       SourceStatus = "scraped"
	SourceError         SourceStatus = "error"
)

// ResearchSource is one candidate source discovered by the search stage.
type ResearchSource struct {
	ID            string       `json:"id"`
	RequirementID string       `json:"requirement_id"`
	QueryID       string       `json:"query_id"`
	Title         string       `json:"title"`
	URL           string       `json:"url"`
	Snippet       string       `json:"snippet"`
	Status        SourceStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ContentStatus tracks scraped content through the summarize stage.
type ContentStatus string

const (
	ContentPendingSummary ContentStatus = "pending_summary"
	ContentSummarized     ContentStatus = "summarized"
	ContentError          ContentStatus = "error"
)

// ScrapedContent is the raw extracted text for a source, plus the eventual
// summary produced by the summarize stage.
type ScrapedContent struct {
	ID            string        `json:"id"`
	RequirementID string        `json:"requirement_id"`
	SourceID      string        `json:"source_id"`
	URL           string        `json:"url"`
	Content       string        `json:"content"`
	Summary       string        `json:"summary,omitempty"`
	Status        ContentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}
