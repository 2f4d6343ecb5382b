package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// Coordinator runs locate→retrieve over a batch, strictly sequentially. The
// origin keys bot detection partly on burstiness, so one request in flight
// plus fixed pacing beats throughput here.
type Coordinator struct {
	locator   *Locator
	retriever *Retriever
	ledger    *Ledger // nil when no database is configured
	limiter   *rate.Limiter
}

func NewCoordinator(client *http.Client, cfg Config, ledger *Ledger) *Coordinator {
	return &Coordinator{
		locator:   NewLocator(client, cfg),
		retriever: NewRetriever(client, cfg),
		ledger:    ledger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.ItemRate), 1),
	}
}

// Run processes identifiers in the order supplied, one terminal outcome each.
// Cancellation is honored between items; an identifier cut off mid-flight is
// not counted. Stats are always returned, even on a partial run.
func (c *Coordinator) Run(ctx context.Context, ids []FileID) RunStats {
	stats := RunStats{Total: len(ids)}

	for i, id := range ids {
		if ctx.Err() != nil {
			slog.Info("run cancelled", "processed", i, "remaining", len(ids)-i)
			break
		}

		outcome, done := c.process(ctx, id)
		if !done {
			slog.Info("run cancelled", "processed", i, "remaining", len(ids)-i)
			break
		}

		switch outcome.Status {
		case StatusDownloaded:
			stats.Downloaded++
		case StatusNotFound:
			stats.NotFound++
			slog.Info("no valid file found", "id", id.ID)
		case StatusFailed:
			stats.Failed++
			slog.Warn("download failed", "id", id.ID, "reason", outcome.Reason)
		}

		if c.ledger != nil {
			c.ledger.Record(ctx, outcome)
		}

		// Inter-item pacing applies regardless of outcome.
		_ = c.limiter.Wait(ctx)
	}
	return stats
}

func (c *Coordinator) process(ctx context.Context, id FileID) (Outcome, bool) {
	loc, err := c.locator.Locate(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{ID: id.ID, Status: StatusNotFound}, true
		}
		// Only cancellation escapes Locate; everything else is absorbed
		// candidate by candidate.
		return Outcome{}, false
	}
	return c.retriever.Retrieve(ctx, loc), true
}
