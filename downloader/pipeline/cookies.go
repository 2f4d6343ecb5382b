package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// A short interstitial page is well under this; real media is well over it.
const usableSizeCutoff = 50000

// Cookie is one externally captured credential record.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Gate is the external age/CAPTCHA verification flow. It is interactive and
// human-driven; the pipeline only consumes the cookie set it yields.
type Gate func(ctx context.Context) ([]Cookie, error)

// Bridge imports captured cookies into the shared client's jar and checks
// that they actually unlock the origin before any bulk work starts.
type Bridge struct {
	client *http.Client
	jar    http.CookieJar
	origin *url.URL
	probe  string
	ua     string
}

func NewBridge(client *http.Client, jar http.CookieJar, cfg Config) (*Bridge, error) {
	origin, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	return &Bridge{
		client: client,
		jar:    jar,
		origin: origin,
		probe:  strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.ProbeAsset, "/"),
		ua:     cfg.UserAgent,
	}, nil
}

// Import sets cookies on the jar scoped to the origin's registrable domain.
// Records naming a foreign domain are dropped rather than re-scoped, so the
// jar can never send them anywhere else. Returns the number imported.
func (b *Bridge) Import(cookies []Cookie) int {
	base, err := publicsuffix.EffectiveTLDPlusOne(b.origin.Hostname())
	if err != nil {
		base = b.origin.Hostname()
	}

	var set []*http.Cookie
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = base
		}
		if domain != base && !strings.HasSuffix(domain, "."+base) {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		set = append(set, &http.Cookie{Name: c.Name, Value: c.Value, Domain: domain, Path: path})
	}
	if len(set) > 0 {
		b.jar.SetCookies(b.origin, set)
	}
	return len(set)
}

// Usable probes one known-valid asset and decides whether the session is past
// the verification gate. A small HTML answer means we are still gated; large
// or non-HTML content means real files are reachable. Any network error is
// conservatively "not usable".
func (b *Bridge) Usable(ctx context.Context) bool {
	resp, err := b.head(ctx)
	if err != nil {
		return false
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = b.rangedGet(ctx)
		if err != nil {
			return false
		}
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	cl, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	// A ranged answer carries the full size in Content-Range, not Content-Length.
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				cl = n
			}
		}
	}

	if strings.Contains(ct, "text/html") && cl < usableSizeCutoff {
		return false
	}
	if cl > usableSizeCutoff || strings.HasPrefix(ct, "video/") || strings.Contains(ct, "application/octet") {
		return true
	}
	return false
}

func (b *Bridge) head(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.probe, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", b.ua)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}

func (b *Bridge) rangedGet(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.probe, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", b.ua)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
	resp.Body.Close()
	return resp, nil
}

// Ensure makes the session usable or fails the whole run. Cached cookies are
// tried first; when they no longer pass the probe the external gate (if any)
// is asked for a fresh set. Returns ErrAuthInvalid when neither works.
func (b *Bridge) Ensure(ctx context.Context, cookiesFile string, gate Gate) error {
	if cookiesFile != "" {
		if cookies, skipped, err := LoadCookiesFile(cookiesFile); err == nil {
			n := b.Import(cookies)
			slog.Info("loaded saved cookies", "file", cookiesFile, "imported", n, "skipped", skipped)
			if b.Usable(ctx) {
				return nil
			}
			slog.Warn("saved cookies no longer pass the access probe", "file", cookiesFile)
		} else if !os.IsNotExist(err) {
			slog.Warn("could not load cookies file", "file", cookiesFile, "err", err)
		}
	}

	if gate == nil {
		return ErrAuthInvalid
	}

	cookies, err := gate(ctx)
	if err != nil {
		return fmt.Errorf("verification gate: %w", err)
	}
	b.Import(cookies)
	if !b.Usable(ctx) {
		return ErrAuthInvalid
	}
	return nil
}

// LoadCookiesFile reads either a JSON cookie list (browser export) or a
// tab-delimited Netscape cookies.txt. Malformed records are skipped, not
// fatal; the skip count is reported.
func LoadCookiesFile(path string) ([]Cookie, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if looksLikeJSON(data) {
		return ParseCookiesJSON(data)
	}
	return ParseCookiesNetscape(data)
}

func looksLikeJSON(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{")
}

// ParseCookiesJSON parses a browser-exported cookie list:
// [{"name": …, "value": …, "domain": …, "path": …}, …]. Extra fields
// (expiry, secure, …) are ignored.
func ParseCookiesJSON(data []byte) ([]Cookie, int, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("parse cookie JSON: %w", err)
	}

	var cookies []Cookie
	skipped := 0
	for _, rec := range raw {
		name, _ := rec["name"].(string)
		value, _ := rec["value"].(string)
		if name == "" {
			skipped++
			continue
		}
		domain, _ := rec["domain"].(string)
		path, _ := rec["path"].(string)
		cookies = append(cookies, Cookie{Name: name, Value: value, Domain: domain, Path: path})
	}
	return cookies, skipped, nil
}

// ParseCookiesNetscape parses the classic seven-field cookies.txt format:
// domain, domain-flag, path, secure-flag, expiry, name, value.
func ParseCookiesNetscape(data []byte) ([]Cookie, int, error) {
	var cookies []Cookie
	skipped := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			skipped++
			continue
		}
		cookies = append(cookies, Cookie{
			Name:   fields[5],
			Value:  fields[6],
			Domain: fields[0],
			Path:   fields[2],
		})
	}
	return cookies, skipped, nil
}
