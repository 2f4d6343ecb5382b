package main

import (
	"flag"

	"github.com/MrCasler/smol-skripts/downloader/pipeline"
)

func main() {
	mode := flag.String("mode", "download", "download (file_ids list), discover (search the origin first), or resume (pending ledger rows)")
	query := flag.String("query", "No images produced", "search query for discover mode")
	maxPages := flag.Int("max-pages", 0, "result pages to walk in discover mode (0 = until the last page)")
	maxResults := flag.Int("max-results", 0, "stop discover mode after this many unique IDs (0 = no limit)")
	flag.Parse()

	pipeline.Run(*mode, *query, *maxPages, *maxResults)
}
