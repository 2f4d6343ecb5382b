package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrCasler/smol-skripts/downloader/pipeline"
)

func TestLocate_HintRestrictsPartitions(t *testing.T) {
	var probes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		if !strings.Contains(r.URL.EscapedPath(), "DataSet%202") {
			t.Errorf("probed outside the hinted partition: %s", r.URL.EscapedPath())
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	client, _ := testClient(t, cfg)
	locator := pipeline.NewLocator(client, cfg)

	_, err := locator.Locate(context.Background(), pipeline.FileID{ID: "EFTA00000042", Dataset: 2})
	if err != pipeline.ErrNotFound {
		t.Fatalf("Locate() error = %v, want ErrNotFound", err)
	}
	if got := probes.Load(); got != int64(len(cfg.Extensions)) {
		t.Fatalf("issued %d probes, want %d (extensions only, one partition)", got, len(cfg.Extensions))
	}
}

func TestLocate_FirstMatchWins(t *testing.T) {
	var probes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.Write(pdfBytes(2048))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	client, _ := testClient(t, cfg)
	locator := pipeline.NewLocator(client, cfg)
	// Stub classifier that would accept every candidate: iteration order must
	// still decide, and probing must stop at the first hit.
	locator.Classify = func([]byte) pipeline.Verdict { return pipeline.Real }

	loc, err := locator.Locate(context.Background(), pipeline.FileID{ID: "EFTA00000042"})
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if loc.Dataset != cfg.PartitionMin || loc.Extension != cfg.Extensions[0] {
		t.Fatalf("Locate() = (%d, %s), want first candidate (%d, %s)",
			loc.Dataset, loc.Extension, cfg.PartitionMin, cfg.Extensions[0])
	}
	if got := probes.Load(); got != 1 {
		t.Fatalf("issued %d probes after a first-candidate hit, want 1", got)
	}
}

func TestLocate_ExhaustsFullSpace(t *testing.T) {
	var probes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	client, _ := testClient(t, cfg)
	locator := pipeline.NewLocator(client, cfg)

	_, err := locator.Locate(context.Background(), pipeline.FileID{ID: "EFTA00000042"})
	if err != pipeline.ErrNotFound {
		t.Fatalf("Locate() error = %v, want ErrNotFound", err)
	}
	partitions := cfg.PartitionMax - cfg.PartitionMin + 1
	want := int64(partitions * len(cfg.Extensions))
	if got := probes.Load(); got != want {
		t.Fatalf("issued %d probes, want %d (partitions × extensions)", got, want)
	}
}

// Scenario: hint 8, extension list [.pdf .mp4], origin serves binary for .pdf
// in DataSet 8 → resolved after exactly one probe.
func TestLocate_HintedHitOnFirstProbe(t *testing.T) {
	var probes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		if strings.Contains(r.URL.EscapedPath(), "DataSet%208") && strings.HasSuffix(r.URL.Path, "EFTA00000042.pdf") {
			w.WriteHeader(http.StatusPartialContent)
			w.Write(pdfBytes(2048))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	client, _ := testClient(t, cfg)
	locator := pipeline.NewLocator(client, cfg)

	loc, err := locator.Locate(context.Background(), pipeline.FileID{ID: "EFTA00000042", Dataset: 8})
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if loc.Dataset != 8 || loc.Extension != ".pdf" {
		t.Fatalf("Locate() = (%d, %s), want (8, .pdf)", loc.Dataset, loc.Extension)
	}
	if got := probes.Load(); got != 1 {
		t.Fatalf("issued %d probes, want 1", got)
	}
}

func TestLocate_DisguisedCandidateIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".pdf") {
			// 200 with an interstitial: the classic soft-block.
			w.Write([]byte(interstitialHTML))
			return
		}
		w.Write(pdfBytes(2048))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	client, _ := testClient(t, cfg)
	locator := pipeline.NewLocator(client, cfg)

	loc, err := locator.Locate(context.Background(), pipeline.FileID{ID: "EFTA00000042", Dataset: 1})
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if loc.Extension != ".mp4" {
		t.Fatalf("Locate() extension = %s, want .mp4 (the .pdf answer was an interstitial)", loc.Extension)
	}
}

func TestLocate_TransportErrorMovesToNextCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".pdf") {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("test server does not support hijacking")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write(pdfBytes(2048))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	client, _ := testClient(t, cfg)
	locator := pipeline.NewLocator(client, cfg)

	loc, err := locator.Locate(context.Background(), pipeline.FileID{ID: "EFTA00000042", Dataset: 1})
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if loc.Extension != ".mp4" {
		t.Fatalf("Locate() extension = %s, want .mp4 after a dropped .pdf probe", loc.Extension)
	}
}
