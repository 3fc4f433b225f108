// Package urlcheck validates and normalizes source URLs at every ingress
// point. Models routinely emit template URLs ("https://pubmed.../{id}") and
// bare listing pages; both are worthless as citations and are rejected here.
package urlcheck

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	dollarToken = regexp.MustCompile(`\$\d+`)
	pathParam   = regexp.MustCompile(`/:[A-Za-z_]+`)

	pmcID    = regexp.MustCompile(`/PMC\d+`)
	pubmedID = regexp.MustCompile(`/\d+`)
	doiID    = regexp.MustCompile(`10\.\d+/`)
	arxivID  = regexp.MustCompile(`\d{4}\.\d+`)
)

// Listing and index pages that carry no article identifier.
var trailingDirs = []string{
	"/articles", "/paper", "/doi", "/abstract", "/pmc", "/pubmed",
	"/content", "/view", "/detail", "/item", "/search", "/results",
	"/list", "/index", "/home",
}

// Tracking parameters stripped by Clean.
var trackingParams = []string{"fbclid", "gclid", "ref", "source"}

// IsValid reports whether raw is a citable URL: http(s) scheme, dotted host,
// no template placeholders, no bare listing path, and for known publisher
// hosts the expected identifier pattern.
func IsValid(raw string) bool {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if !strings.Contains(host, ".") {
		return false
	}

	if hasPlaceholder(raw) {
		return false
	}

	path := strings.TrimSuffix(u.Path, "/")
	lower := strings.ToLower(path)
	for _, dir := range trailingDirs {
		if strings.HasSuffix(lower, dir) {
			return false
		}
	}

	switch {
	case strings.Contains(host, "pmc.ncbi.nlm.nih.gov"),
		strings.Contains(host, "ncbi.nlm.nih.gov") && strings.Contains(lower, "/pmc"):
		return pmcID.MatchString(u.Path)
	case strings.Contains(host, "pubmed.ncbi.nlm.nih.gov"):
		return pubmedID.MatchString(u.Path)
	case host == "doi.org" || strings.HasSuffix(host, ".doi.org"):
		return doiID.MatchString(u.Path)
	case strings.Contains(host, "arxiv.org"):
		return arxivID.MatchString(u.Path)
	}
	return true
}

func hasPlaceholder(raw string) bool {
	for _, marker := range []string{"{", "}", "<", ">", "[", "]", "%s"} {
		if strings.Contains(raw, marker) {
			return true
		}
	}
	if dollarToken.MatchString(raw) {
		return true
	}
	// Router-style path params like /:id survive URL parsing unescaped.
	return pathParam.MatchString(raw)
}

// Clean strips tracking parameters and empty query strings. Idempotent:
// Clean(Clean(u)) == Clean(u). Unparseable input is returned unchanged.
func Clean(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			changed = true
			continue
		}
		for _, t := range trackingParams {
			if lower == t {
				q.Del(key)
				changed = true
				break
			}
		}
	}
	if changed || len(q) == 0 {
		u.RawQuery = q.Encode()
	}
	if u.RawQuery == "" {
		u.ForceQuery = false
	}
	return u.String()
}
