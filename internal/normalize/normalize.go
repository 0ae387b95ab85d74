// Package normalize turns a raw provider answer's citation list into the
// classified form a Citation record stores: the target domain's position,
// the competitor list, and the total source count.
package normalize

import (
	"net/url"
	"strings"

	"github.com/citewatch/citewatch/internal/providers"
)

// Classified is the normalizer's output for one provider answer.
type Classified struct {
	DomainMentioned   bool
	CitationPosition  *int    // provider rank of the first target match
	CitationContext   *string // title or snippet of that match
	TargetCitations   []providers.RawCitation
	Competitors       []CompetitorEntry
	TotalSourcesCited int
}

// CompetitorEntry is one cited URL that is not the target domain, with
// the provider-assigned rank preserved.
type CompetitorEntry struct {
	Domain   string
	URL      string
	Position int
	Context  string
}

// NormalizeDomain lowercases a domain and strips a leading "www.". Used
// for both project configuration and citation hosts, so comparisons are
// symmetric.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(d, "www.")
}

// HostOf extracts the normalized host from a citation URL. Query and
// fragment never influence domain classification. Returns "" for blank
// hosts and opaque schemes.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" {
		return ""
	}
	return NormalizeDomain(host)
}

// MatchesDomain reports whether a normalized host belongs to a target
// domain: exact match or any subdomain of it.
func MatchesDomain(host, target string) bool {
	if host == "" || target == "" {
		return false
	}
	return host == target || strings.HasSuffix(host, "."+target)
}

// canonicalURL is the dedup key: scheme+host+path, query and fragment
// dropped. The stored URL keeps its original form.
func canonicalURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return strings.TrimSpace(rawURL)
	}
	return strings.ToLower(u.Scheme) + "://" + NormalizeDomain(u.Hostname()) + u.Path
}

// Classify runs the §4.2 pipeline over an answer's citations:
// first-seen dedup by canonical URL, target position from the first
// matching entry, competitors with provider ranks preserved.
func Classify(answer *providers.Answer, primaryDomain string) Classified {
	target := NormalizeDomain(primaryDomain)

	var out Classified
	seen := make(map[string]bool, len(answer.Citations))
	ranked := 0 // provider-ranked entries with unknown domains still count as sources

	for _, c := range answer.Citations {
		host := HostOf(c.URL)
		if host == "" {
			if c.Rank > 0 {
				ranked++
			}
			continue
		}
		key := canonicalURL(c.URL)
		if seen[key] {
			continue
		}
		seen[key] = true

		if MatchesDomain(host, target) {
			out.TargetCitations = append(out.TargetCitations, c)
			if !out.DomainMentioned {
				out.DomainMentioned = true
				pos := c.Rank
				out.CitationPosition = &pos
				if ctx := citationContext(c); ctx != "" {
					out.CitationContext = &ctx
				}
			}
			continue
		}

		out.Competitors = append(out.Competitors, CompetitorEntry{
			Domain:   host,
			URL:      c.URL,
			Position: c.Rank,
			Context:  citationContext(c),
		})
	}

	out.TotalSourcesCited = len(seen) + ranked
	return out
}

// CompetitorDomains returns the distinct competitor hosts of a
// classified answer that match one of the project's configured
// competitor domains (subdomains included).
func CompetitorDomains(classified Classified, configured []string) []string {
	var matched []string
	seen := make(map[string]bool)
	for _, entry := range classified.Competitors {
		for _, configuredDomain := range configured {
			target := NormalizeDomain(configuredDomain)
			if MatchesDomain(entry.Domain, target) && !seen[target] {
				seen[target] = true
				matched = append(matched, target)
			}
		}
	}
	return matched
}

func citationContext(c providers.RawCitation) string {
	if c.Snippet != "" {
		return c.Snippet
	}
	return c.Title
}
