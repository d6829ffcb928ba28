package firecrawl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// PollOption configures PollBatchScrape.
type PollOption func(*poller)

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(p *poller) { p.interval = d }
}

// WithPollCap overrides the ceiling the poll interval grows to.
func WithPollCap(d time.Duration) PollOption {
	return func(p *poller) { p.maxInterval = d }
}

// WithPollTimeout overrides the overall timeout. Ignored when the parent
// context already carries a deadline.
func WithPollTimeout(d time.Duration) PollOption {
	return func(p *poller) { p.timeout = d }
}

type poller struct {
	interval    time.Duration
	maxInterval time.Duration
	timeout     time.Duration
}

// PollBatchScrape checks a batch scrape job until it reaches a terminal
// status or the context expires. The interval between checks doubles each
// round up to the cap, since large batches can take minutes.
func PollBatchScrape(ctx context.Context, client Client, id string, opts ...PollOption) (*BatchScrapeStatusResponse, error) {
	p := poller{
		interval:    2 * time.Second,
		maxInterval: 15 * time.Second,
		timeout:     5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&p)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	for {
		status, err := client.GetBatchScrapeStatus(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "firecrawl: check batch %s", id)
		}
		if status.Status == "completed" {
			return status, nil
		}
		if status.Status == "failed" {
			return nil, eris.Errorf("firecrawl: batch %s reported failed", id)
		}

		if err := p.sleep(ctx); err != nil {
			return nil, eris.Wrapf(err, "firecrawl: gave up waiting for batch %s", id)
		}
	}
}

func (p *poller) sleep(ctx context.Context) error {
	t := time.NewTimer(p.interval)
	defer t.Stop()

	if next := p.interval * 2; next <= p.maxInterval {
		p.interval = next
	} else {
		p.interval = p.maxInterval
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
