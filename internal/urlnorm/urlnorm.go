// Package urlnorm canonicalizes URLs and derives stable document IDs from
// them. Every component that keys anything by URL (job dedupe, the index,
// the link graph) goes through this package, so two spellings of the same
// page always collapse to one doc_id.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// MaxURLLength is the longest URL accepted for ingestion.
const MaxURLLength = 2083

var trackingKeys = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
}

// Normalize canonicalizes a URL: lowercases the scheme and host, drops the
// fragment, and strips common tracking query parameters. It returns false
// for non-HTTP(S) URLs, unparseable input, and URLs over MaxURLLength.
func Normalize(raw string) (string, bool) {
	return normalize(nil, raw)
}

// Resolve normalizes link relative to base. Used for outlinks extracted from
// page content, which are often relative.
func Resolve(base, link string) (string, bool) {
	if link == "" {
		return "", false
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	return normalize(b, link)
}

func normalize(base *url.URL, raw string) (string, bool) {
	if raw == "" || len(raw) > MaxURLLength {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	if u.Hostname() == "" {
		return "", false
	}

	u.Scheme = scheme
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = stripTracking(u.RawQuery)

	normalized := u.String()
	if len(normalized) > MaxURLLength {
		return "", false
	}
	return normalized, true
}

// stripTracking removes tracking parameters while preserving the order and
// blank values of the remaining pairs.
func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if _, tracking := trackingKeys[key]; tracking {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// DocID derives the stable document identifier for a normalized URL: the
// first 16 hex characters of its SHA-256 digest.
func DocID(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])[:16]
}

// Domain extracts the lowercased host (without port) from a normalized URL,
// or "" if it cannot be parsed. Used for domain-level rank aggregation.
func Domain(normalizedURL string) string {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
