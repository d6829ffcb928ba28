// Package cost estimates spend across the external providers a run touches.
// Estimates are logged per stage so operators can attribute spend to a
// requirement without waiting for provider invoices.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Serper    SerperRate           `yaml:"serper" mapstructure:"serper"`
	Firecrawl FirecrawlRate        `yaml:"firecrawl" mapstructure:"firecrawl"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// SerperRate holds Serper search pricing.
type SerperRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// FirecrawlRate holds Firecrawl pricing. One scraped page consumes one
// credit on the standard plan.
type FirecrawlRate struct {
	PerCredit      float64 `yaml:"per_credit" mapstructure:"per_credit"`
	CreditsPerPage float64 `yaml:"credits_per_page" mapstructure:"credits_per_page"`
}

// Calculator computes estimated costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for one Claude API call. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// SerperQueries returns the cost of n search queries.
func (c *Calculator) SerperQueries(n int) float64 {
	return float64(n) * c.rates.Serper.PerQuery
}

// FirecrawlPages returns the cost of scraping n pages.
func (c *Calculator) FirecrawlPages(n int) float64 {
	return float64(n) * c.rates.Firecrawl.CreditsPerPage * c.rates.Firecrawl.PerCredit
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		Serper:    SerperRate{PerQuery: 0.001},
		Firecrawl: FirecrawlRate{PerCredit: 19.0 / 3000, CreditsPerPage: 1},
	}
}
