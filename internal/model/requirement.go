package model

import "time"

// Requirement is the product requirement a market analysis runs against.
// It is produced by an earlier analysis step and read-only to the pipeline.
type Requirement struct {
	ID               string    `json:"id"`
	Industry         string    `json:"industry"`
	ProblemStatement string    `json:"problem_statement"`
	ProposedSolution string    `json:"proposed_solution"`
	KeyFeatures      string    `json:"key_features"`
	CreatedAt        time.Time `json:"created_at"`
}
