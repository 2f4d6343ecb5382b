package pipeline_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrCasler/smol-skripts/downloader/pipeline"
)

func TestRetrieve_WritesValidatedFile(t *testing.T) {
	payload := pdfBytes(10240)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	mustEnsureLayout(t, cfg)
	client, _ := testClient(t, cfg)

	loc := pipeline.ResourceLocation{ID: "EFTA00000042", Dataset: 1, Extension: ".pdf"}
	out := pipeline.NewRetriever(client, cfg).Retrieve(context.Background(), loc)

	if out.Status != pipeline.StatusDownloaded {
		t.Fatalf("Retrieve() status = %s (%s), want downloaded", out.Status, out.Reason)
	}
	if out.Bytes != int64(len(payload)) {
		t.Errorf("Retrieve() bytes = %d, want %d", out.Bytes, len(payload))
	}

	got, err := os.ReadFile(pipeline.DestPath(cfg.DownloadDir, loc))
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("destination content differs from served payload")
	}
}

func TestRetrieve_InterstitialLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The probe saw a real file, but by download time the session is
		// gated again: 200 with HTML.
		w.Write([]byte(interstitialHTML))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	mustEnsureLayout(t, cfg)
	client, _ := testClient(t, cfg)

	loc := pipeline.ResourceLocation{ID: "EFTA00000042", Dataset: 1, Extension: ".pdf"}
	out := pipeline.NewRetriever(client, cfg).Retrieve(context.Background(), loc)

	if out.Status != pipeline.StatusFailed || out.Reason != pipeline.ReasonContentMismatch {
		t.Fatalf("Retrieve() = %s/%s, want failed/content-mismatch", out.Status, out.Reason)
	}
	assertDirEmpty(t, filepath.Join(cfg.DownloadDir, "pdf"))
}

func TestRetrieve_TransportErrorLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	mustEnsureLayout(t, cfg)
	client, _ := testClient(t, cfg)

	loc := pipeline.ResourceLocation{ID: "EFTA00000042", Dataset: 1, Extension: ".pdf"}
	out := pipeline.NewRetriever(client, cfg).Retrieve(context.Background(), loc)

	if out.Status != pipeline.StatusFailed || out.Reason != pipeline.ReasonTransportError {
		t.Fatalf("Retrieve() = %s/%s, want failed/transport-error", out.Status, out.Reason)
	}
	assertDirEmpty(t, filepath.Join(cfg.DownloadDir, "pdf"))
}

func TestRetrieve_RepeatOverwritesSamePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pdfBytes(4096))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	mustEnsureLayout(t, cfg)
	client, _ := testClient(t, cfg)

	loc := pipeline.ResourceLocation{ID: "EFTA00000042", Dataset: 1, Extension: ".pdf"}
	retriever := pipeline.NewRetriever(client, cfg)
	for i := 0; i < 2; i++ {
		if out := retriever.Retrieve(context.Background(), loc); out.Status != pipeline.StatusDownloaded {
			t.Fatalf("Retrieve() #%d status = %s", i+1, out.Status)
		}
	}

	entries, err := os.ReadDir(filepath.Join(cfg.DownloadDir, "pdf"))
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files after two retrievals, want 1", len(entries))
	}
}

func TestEnsureLayout_Idempotent(t *testing.T) {
	root := t.TempDir()
	exts := []string{".pdf", ".mp4"}
	for i := 0; i < 2; i++ {
		if err := pipeline.EnsureLayout(root, exts); err != nil {
			t.Fatalf("EnsureLayout #%d: %v", i+1, err)
		}
	}
	for _, dir := range []string{"pdf", "mp4"} {
		if st, err := os.Stat(filepath.Join(root, dir)); err != nil || !st.IsDir() {
			t.Errorf("missing layout dir %s (err=%v)", dir, err)
		}
	}
}

func mustEnsureLayout(t *testing.T, cfg pipeline.Config) {
	t.Helper()
	if err := pipeline.EnsureLayout(cfg.DownloadDir, cfg.Extensions); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	if len(entries) != 0 {
		t.Fatalf("%s not empty: %v", dir, entries)
	}
}
