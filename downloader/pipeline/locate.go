package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

const probeRangeBytes = 2048

// Locator resolves an identifier to the (dataset, extension) pair where the
// origin actually serves a file, by probing the candidate space in a fixed
// order. First candidate whose prefix classifies as a real payload wins; no
// later candidate is ever compared against it.
type Locator struct {
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter

	// Classify is swappable for tests; defaults to the package classifier.
	Classify func([]byte) Verdict
}

func NewLocator(client *http.Client, cfg Config) *Locator {
	return &Locator{
		client:   client,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.ProbeRate), 1),
		Classify: Classify,
	}
}

// Locate probes the hinted dataset only when a hint is present, else the full
// configured range. A failed probe (bad status, transport error, disguised
// content) just moves iteration along; only exhausting the whole space yields
// ErrNotFound.
func (l *Locator) Locate(ctx context.Context, id FileID) (ResourceLocation, error) {
	var datasets []int
	if id.Dataset > 0 {
		datasets = []int{id.Dataset}
	} else {
		for ds := l.cfg.PartitionMin; ds <= l.cfg.PartitionMax; ds++ {
			datasets = append(datasets, ds)
		}
	}

	for _, ds := range datasets {
		for _, ext := range l.cfg.Extensions {
			if err := ctx.Err(); err != nil {
				return ResourceLocation{}, err
			}
			_ = l.limiter.Wait(ctx)

			ok, err := l.probe(ctx, id.ID, ds, ext)
			if err != nil {
				slog.Debug("probe error", "id", id.ID, "dataset", ds, "ext", ext, "err", err)
				continue
			}
			if ok {
				return ResourceLocation{ID: id.ID, Dataset: ds, Extension: ext}, nil
			}
		}
	}
	return ResourceLocation{}, ErrNotFound
}

// probe fetches the first ~2KB of the candidate URL and classifies it.
func (l *Locator) probe(ctx context.Context, id string, dataset int, ext string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, FileURL(l.cfg, id, dataset, ext), nil)
	if err != nil {
		return false, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", probeRangeBytes-1))

	resp, err := l.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return false, nil
	}

	prefix, err := io.ReadAll(io.LimitReader(resp.Body, probeRangeBytes))
	if err != nil {
		return false, fmt.Errorf("probe read: %w", err)
	}
	return l.Classify(prefix) == Real, nil
}
