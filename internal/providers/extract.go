package providers

import (
	"regexp"
	"strings"
)

// Engines without a structured citation channel (ChatGPT, Claude, Grok,
// DeepSeek, Copilot) embed sources in prose. Extraction scans three
// shapes in precedence order:
//
//  1. markdown links   [Anchor Text](https://example.com/page)
//  2. bare URLs        https://example.com/page
//  3. numbered refs    [3] Some Title - https://example.com/page
//
// The first appearance of a URL wins; later duplicates are dropped and
// ranks stay dense and 1-based.
var (
	markdownLinkRe = regexp.MustCompile(`\[([^\[\]]+)\]\((https?://[^\s()]+)\)`)
	bareURLRe      = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)
	numberedRefRe  = regexp.MustCompile(`(?m)^\s*\[(\d+)\][:.\-]?\s+(.*?)(https?://\S+)`)
)

// ExtractTextCitations scans answer prose for cited URLs and returns them
// as ranked citations in first-seen order.
func ExtractTextCitations(text string) []RawCitation {
	if text == "" {
		return nil
	}

	index := make(map[string]int)
	var citations []RawCitation

	add := func(url, title string) {
		url = trimURL(url)
		if url == "" {
			return
		}
		title = strings.TrimSpace(title)
		if i, ok := index[url]; ok {
			// A later pattern may still supply the missing title.
			if citations[i].Title == "" && title != "" {
				citations[i].Title = title
			}
			return
		}
		index[url] = len(citations)
		citations = append(citations, RawCitation{
			URL:   url,
			Title: title,
			Rank:  len(citations) + 1,
		})
	}

	for _, m := range markdownLinkRe.FindAllStringSubmatch(text, -1) {
		add(m[2], m[1])
	}
	for _, url := range bareURLRe.FindAllString(text, -1) {
		add(url, "")
	}
	for _, m := range numberedRefRe.FindAllStringSubmatch(text, -1) {
		add(m[3], strings.Trim(m[2], " -–:\t"))
	}

	return citations
}

// trimURL strips punctuation that sentence context glues onto a URL.
func trimURL(url string) string {
	return strings.TrimRight(url, ".,;:!?)\"'`]}")
}

// mergeCitations combines structured citations with ones scanned from
// prose, keeping structured entries first and re-ranking densely.
func mergeCitations(structured []RawCitation, fromText []RawCitation) []RawCitation {
	seen := make(map[string]bool, len(structured))
	merged := make([]RawCitation, 0, len(structured)+len(fromText))
	for _, c := range structured {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		c.Rank = len(merged) + 1
		merged = append(merged, c)
	}
	for _, c := range fromText {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		c.Rank = len(merged) + 1
		merged = append(merged, c)
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}
