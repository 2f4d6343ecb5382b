package pipeline_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/MrCasler/smol-skripts/downloader/pipeline"
)

// testConfig points the pipeline at a stub origin with a tiny candidate
// space and pacing/retry settings that keep tests fast.
func testConfig(t *testing.T, baseURL string) pipeline.Config {
	t.Helper()
	return pipeline.Config{
		BaseURL:      baseURL + "/",
		ProbeAsset:   "files/DataSet%208/EFTA00000001.mp4",
		DownloadDir:  t.TempDir(),
		UserAgent:    "test-agent",
		IDPrefix:     "EFTA",
		DatasetLabel: "DataSet %d",
		PartitionMin: 1,
		PartitionMax: 2,
		Extensions:   []string{".pdf", ".mp4"},
		ProbeTimeout: 5 * time.Second,
		FetchTimeout: 5 * time.Second,
		ProbeRate:    5000,
		ItemRate:     5000,
		RetryMax:     0,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
	}
}

func testClient(t *testing.T, cfg pipeline.Config) (*http.Client, http.CookieJar) {
	t.Helper()
	client, jar, err := pipeline.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, jar
}

// pdfBytes is a payload prefix that classifies as a real document.
func pdfBytes(n int) []byte {
	body := append([]byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"), make([]byte, n)...)
	return body[:n]
}

const interstitialHTML = `<!DOCTYPE html><html><head><title>Verify your age</title></head>` +
	`<body><h1>Are you over 18?</h1><button id="age-yes">Yes</button></body></html>`
