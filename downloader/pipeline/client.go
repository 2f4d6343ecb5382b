package pipeline

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/publicsuffix"
)

// NewClient builds the one shared HTTP client for a run. Transient failures
// (connection errors, 429, 5xx) are retried with capped exponential backoff
// beneath every request; other 4xx responses surface immediately, which keeps
// probe misses cheap.
func NewClient(cfg Config) (*http.Client, http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, nil, fmt.Errorf("cookie jar: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Logger = nil
	rc.HTTPClient.Jar = jar
	rc.HTTPClient.Timeout = cfg.FetchTimeout

	return rc.StandardClient(), jar, nil
}
