package pipeline

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultExtensions is ordered by prior probability of a match, most common
// binary types first, so the expected probe count stays low.
var DefaultExtensions = []string{
	".pdf", ".mp4", ".mov", ".avi", ".wmv", ".m4v", ".webm", ".flv", ".mkv",
	".mp3", ".wav", ".m4a", ".ogg", ".flac", ".aac",
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
	".txt", ".doc", ".docx", ".rtf",
	".zip", ".rar", ".7z", ".gz",
	".csv", ".xls", ".xlsx",
}

type Config struct {
	BaseURL      string
	SearchPath   string
	ProbeAsset   string // path of a known-valid asset, relative to BaseURL
	CookiesFile  string
	IDsFile      string
	DownloadDir  string
	DatabaseURL  string
	UserAgent    string
	IDPrefix     string
	DatasetLabel string // fmt pattern for the partition segment, e.g. "DataSet %d"
	PartitionMin int
	PartitionMax int
	Extensions   []string
	ProbeTimeout time.Duration
	FetchTimeout time.Duration
	ProbeRate    float64 // probe requests per second
	ItemRate     float64 // identifiers per second across the batch
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

func LoadConfig() Config {
	loadDotEnv()

	cfg := Config{
		BaseURL:      getEnv("BASE_URL", "https://www.justice.gov/epstein/"),
		SearchPath:   getEnv("SEARCH_PATH", ""),
		ProbeAsset:   getEnv("PROBE_ASSET", "files/DataSet%208/EFTA00033115.mp4"),
		CookiesFile:  getEnv("COOKIES_FILE", "cookies_browser.json"),
		IDsFile:      getEnv("FILE_IDS", "file_ids.txt"),
		DownloadDir:  getEnv("DOWNLOAD_DIR", "downloads"),
		DatabaseURL:  getEnv("DB_URL", ""),
		UserAgent:    getEnv("USER_AGENT", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		IDPrefix:     getEnv("ID_PREFIX", "EFTA"),
		DatasetLabel: getEnv("DATASET_LABEL", "DataSet %d"),
		PartitionMin: getEnvInt("PARTITION_MIN", 1),
		PartitionMax: getEnvInt("PARTITION_MAX", 10),
		Extensions:   DefaultExtensions,
		ProbeTimeout: time.Duration(getEnvInt("PROBE_TIMEOUT_SEC", 15)) * time.Second,
		FetchTimeout: time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 90)) * time.Second,
		ProbeRate:    getEnvFloat("PROBE_RATE", 10),
		ItemRate:     getEnvFloat("ITEM_RATE", 2),
		RetryMax:     getEnvInt("RETRY_MAX", 3),
		RetryWaitMin: time.Duration(getEnvInt("RETRY_WAIT_MIN_MS", 1000)) * time.Millisecond,
		RetryWaitMax: time.Duration(getEnvInt("RETRY_WAIT_MAX_MS", 8000)) * time.Millisecond,
	}

	if v := getEnv("EXTENSIONS", ""); v != "" {
		cfg.Extensions = parseExtensions(v)
	}

	return cfg
}

func parseExtensions(v string) []string {
	var exts []string
	for _, e := range strings.Split(v, ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return exts
}

// FileURL composes the asset URL. The partition segment is a human-readable
// label ("DataSet 8"), percent-encoded, not a bare integer.
func FileURL(cfg Config, id string, dataset int, ext string) string {
	label := url.PathEscape(fmt.Sprintf(cfg.DatasetLabel, dataset))
	return strings.TrimRight(cfg.BaseURL, "/") + "/files/" + label + "/" + id + ext
}

func loadDotEnv() {
	for _, path := range []string{".env", "../.env"} {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			if _, exists := os.LookupEnv(strings.TrimSpace(k)); !exists {
				os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
			}
		}
		f.Close()
		return
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}
