package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

// Run wires the whole pipeline for one batch: client + cookie bridge, the
// identifier source for the selected mode, then the sequential coordinator.
func Run(mode, query string, maxPages, maxResults int) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := LoadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, jar, err := NewClient(cfg)
	if err != nil {
		slog.Error("client setup failed", "err", err)
		os.Exit(1)
	}

	bridge, err := NewBridge(client, jar, cfg)
	if err != nil {
		slog.Error("invalid origin configuration", "err", err)
		os.Exit(1)
	}

	// Precondition for the whole batch, checked exactly once. The cookie set
	// comes from the external verification gate (browser age check); when it
	// no longer unlocks the origin there is nothing useful this process can
	// do on its own.
	if err := bridge.Ensure(ctx, cfg.CookiesFile, nil); err != nil {
		if errors.Is(err, ErrAuthInvalid) {
			slog.Error("cookies do not unlock the origin; re-run the verification gate and export fresh cookies",
				"cookies_file", cfg.CookiesFile)
		} else {
			slog.Error("credential check failed", "err", err)
		}
		os.Exit(1)
	}
	slog.Info("access verified", "origin", cfg.BaseURL)

	var ledger *Ledger
	if cfg.DatabaseURL != "" {
		ledger, err = OpenLedger(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("ledger unavailable", "err", err)
			os.Exit(1)
		}
		defer ledger.Close()
		slog.Info("progress ledger connected")
	}

	ids := loadBatch(ctx, mode, query, maxPages, maxResults, client, cfg, ledger)
	if len(ids) == 0 {
		slog.Info("nothing to do", "mode", mode)
		return
	}
	slog.Info("batch ready", "mode", mode, "ids", len(ids))

	if err := EnsureLayout(cfg.DownloadDir, cfg.Extensions); err != nil {
		slog.Error("storage layout", "err", err)
		os.Exit(1)
	}

	if ledger != nil {
		if seeded, err := ledger.Seed(ctx, ids); err != nil {
			slog.Warn("ledger seed failed", "err", err)
		} else if seeded > 0 {
			slog.Info("ledger seeded", "new", seeded)
		}
	}

	stats := NewCoordinator(client, cfg, ledger).Run(ctx, ids)

	if err := WriteSummary(cfg.DownloadDir, stats); err != nil {
		slog.Warn("could not write run summary", "err", err)
	}
	slog.Info("run complete",
		"total", stats.Total,
		"downloaded", stats.Downloaded,
		"not_found", stats.NotFound,
		"failed", stats.Failed,
	)
}

func loadBatch(ctx context.Context, mode, query string, maxPages, maxResults int, client *http.Client, cfg Config, ledger *Ledger) []FileID {
	switch mode {
	case "download":
		ids, skipped, err := LoadIDList(cfg.IDsFile, cfg.IDPrefix)
		if errors.Is(err, os.ErrNotExist) {
			template := "# One identifier per line, e.g. EFTA00024813 or bare digits.\n" +
				"# Optional partition hint: EFTA00024813.pdf - DataSet 8\n"
			if werr := os.WriteFile(cfg.IDsFile, []byte(template), 0o644); werr == nil {
				slog.Info("created identifier list template; add IDs and run again", "file", cfg.IDsFile)
				return nil
			}
		}
		if err != nil {
			slog.Error("could not load identifier list", "file", cfg.IDsFile, "err", err)
			os.Exit(1)
		}
		if skipped > 0 {
			slog.Warn("skipped malformed identifier lines", "file", cfg.IDsFile, "skipped", skipped)
		}
		return ids

	case "discover":
		results := NewAggregator(client, cfg).Collect(ctx, query, maxPages, maxResults)
		ids := make([]FileID, 0, len(results))
		for _, r := range results {
			ids = append(ids, FileID{ID: r.ID, Dataset: r.Dataset})
		}
		return ids

	case "resume":
		if ledger == nil {
			slog.Error("resume mode needs DB_URL set")
			os.Exit(1)
		}
		ids, err := ledger.Pending(ctx, 10000)
		if err != nil {
			slog.Error("could not load pending identifiers", "err", err)
			os.Exit(1)
		}
		return ids

	default:
		slog.Error("unknown mode", "mode", mode)
		os.Exit(1)
		return nil
	}
}
