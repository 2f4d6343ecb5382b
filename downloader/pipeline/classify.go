package pipeline

import (
	"strings"
	"unicode/utf8"
)

const (
	minPrefixLen = 10
	sniffLen     = 500
	htmlScanLen  = 200
)

type Verdict int

const (
	Disguised Verdict = iota
	Real
)

var htmlMarkers = []string{"<!doctype", "<html", "<!html"}

// Classify decides whether a response prefix is a genuine binary/document
// payload or an HTML interstitial. Gated origins answer unverified sessions
// with HTTP 200 and an age-check page, so the status code proves nothing;
// the byte prefix does: no real document or media format opens with an HTML
// doctype. Binary content decodes to nothing recognizable and passes.
func Classify(prefix []byte) Verdict {
	if len(prefix) < minPrefixLen {
		return Disguised
	}

	sniff := prefix
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}

	text := strings.ToLower(strings.TrimSpace(lossyDecode(sniff)))
	for _, marker := range htmlMarkers {
		if strings.HasPrefix(text, marker) {
			return Disguised
		}
	}
	head := text
	if len(head) > htmlScanLen {
		head = head[:htmlScanLen]
	}
	if strings.Contains(head, "<html") {
		return Disguised
	}
	return Real
}

// lossyDecode reads b as UTF-8, dropping undecodable bytes, the way a
// forgiving text decoder does. Binary input shrinks to unstructured noise
// that cannot spell an HTML marker.
func lossyDecode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return sb.String()
}
