package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	firstChunkBytes = 4096
	copyChunkBytes  = 8192
)

// EnsureLayout creates the destination root and one subdirectory per
// extension (directory name = extension without the dot). Idempotent; runs
// once before any retrieval.
func EnsureLayout(root string, extensions []string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	for _, ext := range extensions {
		dir := filepath.Join(root, strings.TrimPrefix(ext, "."))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// DestPath is deterministic per location, so a re-download overwrites the
// earlier file instead of duplicating it.
func DestPath(root string, loc ResourceLocation) string {
	return filepath.Join(root, strings.TrimPrefix(loc.Extension, "."), loc.ID+loc.Extension)
}

// Retriever performs the full authenticated download of a located resource.
type Retriever struct {
	client *http.Client
	cfg    Config

	// Classify is swappable for tests; defaults to the package classifier.
	Classify func([]byte) Verdict
}

func NewRetriever(client *http.Client, cfg Config) *Retriever {
	return &Retriever{client: client, cfg: cfg, Classify: Classify}
}

// Retrieve re-issues the full request (the probe only saw a partial range)
// and re-classifies the first chunk before touching disk: the session can be
// invalidated between probe and download, turning the same URL into an
// interstitial. Nothing is ever left behind on failure.
func (r *Retriever) Retrieve(ctx context.Context, loc ResourceLocation) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, FileURL(r.cfg, loc.ID, loc.Dataset, loc.Extension), nil)
	if err != nil {
		return failed(loc, ReasonTransportError)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		slog.Warn("download request failed", "id", loc.ID, "err", err)
		return failed(loc, ReasonTransportError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("download rejected", "id", loc.ID, "status", resp.StatusCode)
		return failed(loc, ReasonTransportError)
	}

	first := make([]byte, firstChunkBytes)
	n, err := io.ReadFull(resp.Body, first)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return failed(loc, ReasonTransportError)
	}
	first = first[:n]

	if r.Classify(first) != Real {
		slog.Warn("full response came back as an interstitial", "id", loc.ID, "ext", loc.Extension)
		return failed(loc, ReasonContentMismatch)
	}

	dest := DestPath(r.cfg.DownloadDir, loc)
	written, err := commit(dest, first, resp.Body)
	if err != nil {
		slog.Warn("write failed", "id", loc.ID, "dest", dest, "err", err)
		return failed(loc, ReasonTransportError)
	}

	slog.Info("downloaded", "id", loc.ID, "ext", loc.Extension, "bytes", written)
	return Outcome{ID: loc.ID, Status: StatusDownloaded, Extension: loc.Extension, Bytes: written}
}

// commit streams to a temp file in the destination directory and renames into
// place, so a failed transfer never leaves a partial file at the final path.
func commit(dest string, first []byte, rest io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, err
	}
	name := tmp.Name()

	written, err := func() (int64, error) {
		if _, err := tmp.Write(first); err != nil {
			return 0, err
		}
		buf := make([]byte, copyChunkBytes)
		copied, err := io.CopyBuffer(tmp, rest, buf)
		if err != nil {
			return 0, err
		}
		return int64(len(first)) + copied, nil
	}()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return 0, err
	}
	if err := os.Rename(name, dest); err != nil {
		os.Remove(name)
		return 0, err
	}
	return written, nil
}

func failed(loc ResourceLocation, reason FailReason) Outcome {
	return Outcome{ID: loc.ID, Status: StatusFailed, Reason: reason, Extension: loc.Extension}
}
