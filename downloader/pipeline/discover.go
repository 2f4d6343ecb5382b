package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const maxPageBytes = 5 * 1024 * 1024

// Aggregator walks the origin's paginated search results and collects
// candidate identifiers. Extraction is best effort: a page that yields
// nothing is not an error, it only ends pagination when no next-page control
// is left either.
type Aggregator struct {
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter

	idPattern      *regexp.Regexp
	datasetPattern *regexp.Regexp
}

func NewAggregator(client *http.Client, cfg Config) *Aggregator {
	return &Aggregator{
		client:         client,
		cfg:            cfg,
		limiter:        rate.NewLimiter(rate.Limit(cfg.ProbeRate), 1),
		idPattern:      regexp.MustCompile(regexp.QuoteMeta(cfg.IDPrefix) + `\d+`),
		datasetPattern: datasetPattern(cfg.DatasetLabel),
	}
}

// datasetPattern turns the label format ("DataSet %d") into a matcher for
// partition mentions in page text.
func datasetPattern(label string) *regexp.Regexp {
	head, _, _ := strings.Cut(label, "%d")
	return regexp.MustCompile(regexp.QuoteMeta(strings.TrimSpace(head)) + `\s*(\d+)`)
}

// Collect runs one query. maxPages and maxResults of 0 mean unlimited.
func (a *Aggregator) Collect(ctx context.Context, query string, maxPages, maxResults int) []SearchResult {
	return a.CollectAll(ctx, []string{query}, maxPages, maxResults)
}

// CollectAll runs several queries, deduplicating identifiers across all of
// them. An identifier seen under more than one query accumulates every
// matching query as a tag; its other fields are never overwritten.
func (a *Aggregator) CollectAll(ctx context.Context, queries []string, maxPages, maxResults int) []SearchResult {
	results := make(map[string]*SearchResult)
	var order []string

	for _, query := range queries {
		a.collectQuery(ctx, query, maxPages, maxResults, results, &order)
	}

	out := make([]SearchResult, 0, len(order))
	for _, id := range order {
		out = append(out, *results[id])
	}
	return out
}

func (a *Aggregator) collectQuery(ctx context.Context, query string, maxPages, maxResults int, results map[string]*SearchResult, order *[]string) {
	for page := 0; ; page++ {
		if ctx.Err() != nil {
			return
		}
		if maxPages > 0 && page >= maxPages {
			return
		}
		_ = a.limiter.Wait(ctx)

		body, err := a.fetchPage(ctx, query, page)
		if err != nil {
			slog.Warn("search page fetch failed", "query", query, "page", page, "err", err)
			return
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			slog.Warn("search page parse failed", "query", query, "page", page, "err", err)
			return
		}

		added := a.extract(doc, query, results, order, maxResults)
		slog.Info("search page processed", "query", query, "page", page, "new_ids", added, "total", len(*order))

		if maxResults > 0 && len(*order) >= maxResults {
			return
		}
		if !nextPageAvailable(doc) {
			return
		}
	}
}

func (a *Aggregator) fetchPage(ctx context.Context, query string, page int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.searchURL(query, page), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

func (a *Aggregator) searchURL(query string, page int) string {
	base := strings.TrimRight(a.cfg.BaseURL, "/") + a.cfg.SearchPath
	q := url.Values{}
	q.Set("search_api_fulltext", query)
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	return base + "?" + q.Encode()
}

// extract pulls identifiers from one result page. Structural matches
// (identifier inside a /files/ resource path) are preferred because they
// carry an exact dataset; a textual sweep over the page catches the rest,
// pairing each identifier with the nearest dataset mention.
func (a *Aggregator) extract(doc *goquery.Document, query string, results map[string]*SearchResult, order *[]string, maxResults int) int {
	added := 0
	add := func(id string, dataset int) {
		if maxResults > 0 && len(*order) >= maxResults {
			if _, seen := results[id]; !seen {
				return
			}
		}
		r, seen := results[id]
		if !seen {
			r = &SearchResult{ID: id, Dataset: dataset}
			results[id] = r
			*order = append(*order, id)
			added++
		} else if r.Dataset == 0 && dataset > 0 {
			r.Dataset = dataset
		}
		for _, t := range r.Tags {
			if t == query {
				return
			}
		}
		r.Tags = append(r.Tags, query)
	}

	doc.Find("a[href*='/files/']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if id, ds, ok := a.parseFileHref(href); ok {
			add(id, ds)
		}
	})

	html, err := doc.Html()
	if err != nil {
		return added
	}
	idMatches := a.idPattern.FindAllStringIndex(html, -1)
	dsMatches := a.datasetPattern.FindAllStringSubmatchIndex(html, -1)
	for _, m := range idMatches {
		add(html[m[0]:m[1]], nearestDataset(html, dsMatches, m[0]))
	}
	return added
}

// parseFileHref recognizes .../files/{label}/{identifier}{ext} resource paths.
func (a *Aggregator) parseFileHref(href string) (string, int, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", 0, false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 3 {
		return "", 0, false
	}
	label, file := segments[len(segments)-2], segments[len(segments)-1]
	if segments[len(segments)-3] != "files" {
		return "", 0, false
	}

	stem := strings.TrimSuffix(file, path.Ext(file))
	if a.idPattern.FindString(stem) != stem {
		return "", 0, false
	}

	dataset := 0
	if m := a.datasetPattern.FindStringSubmatch(label); m != nil {
		dataset, _ = strconv.Atoi(m[1])
	}
	return stem, dataset, true
}

// nearestDataset picks the partition mention closest to the identifier's
// position in the page, a heuristic good enough for an advisory hint.
func nearestDataset(html string, dsMatches [][]int, pos int) int {
	best, bestDist := 0, -1
	for _, m := range dsMatches {
		dist := pos - m[0]
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			if n, err := strconv.Atoi(html[m[2]:m[3]]); err == nil {
				best, bestDist = n, dist
			}
		}
	}
	return best
}

// nextPageAvailable reports whether an enabled next-page control exists.
func nextPageAvailable(doc *goquery.Document) bool {
	enabled := false
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		if rel != "next" && !strings.EqualFold(strings.TrimSpace(s.Text()), "next") {
			return true
		}
		cls, _ := s.Attr("class")
		aria, _ := s.Attr("aria-disabled")
		enabled = !strings.Contains(cls, "disabled") && aria != "true"
		return false
	})
	return enabled
}
