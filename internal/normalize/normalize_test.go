package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citewatch/citewatch/internal/providers"
)

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "acme.com", NormalizeDomain("ACME.com"))
	assert.Equal(t, "acme.com", NormalizeDomain("www.acme.com"))
	assert.Equal(t, "acme.com", NormalizeDomain("  WWW.Acme.Com  "))
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "acme.com", HostOf("https://www.acme.com/guide?ref=x#top"))
	assert.Equal(t, "foo.acme.com", HostOf("http://FOO.acme.com/a"))
	assert.Equal(t, "", HostOf("mailto:hi@acme.com"))
	assert.Equal(t, "", HostOf("not a url"))
	assert.Equal(t, "", HostOf(""))
}

func TestMatchesDomainSubdomains(t *testing.T) {
	assert.True(t, MatchesDomain("example.com", "example.com"))
	assert.True(t, MatchesDomain("foo.example.com", "example.com"))
	assert.False(t, MatchesDomain("notexample.com", "example.com"))
	assert.False(t, MatchesDomain("example.com.evil.io", "example.com"))
	assert.False(t, MatchesDomain("", "example.com"))
}

func TestClassifyTargetAndCompetitors(t *testing.T) {
	answer := &providers.Answer{
		Citations: []providers.RawCitation{
			{URL: "https://other.com/x", Rank: 1},
			{URL: "https://www.acme.com/guide", Title: "Acme Guide", Rank: 2},
			{URL: "https://third.io/y", Snippet: "a snippet", Rank: 3},
		},
	}

	c := Classify(answer, "acme.com")
	assert.True(t, c.DomainMentioned)
	require.NotNil(t, c.CitationPosition)
	assert.Equal(t, 2, *c.CitationPosition)
	require.NotNil(t, c.CitationContext)
	assert.Equal(t, "Acme Guide", *c.CitationContext)
	assert.Equal(t, 3, c.TotalSourcesCited)

	require.Len(t, c.Competitors, 2)
	assert.Equal(t, "other.com", c.Competitors[0].Domain)
	assert.Equal(t, 1, c.Competitors[0].Position)
	assert.Equal(t, "third.io", c.Competitors[1].Domain)
	assert.Equal(t, "a snippet", c.Competitors[1].Context)
}

func TestClassifyNoMention(t *testing.T) {
	answer := &providers.Answer{
		Citations: []providers.RawCitation{
			{URL: "https://other.com/x", Rank: 1},
		},
	}

	c := Classify(answer, "acme.com")
	assert.False(t, c.DomainMentioned)
	assert.Nil(t, c.CitationPosition)
	assert.Nil(t, c.CitationContext)
	assert.Equal(t, 1, c.TotalSourcesCited)
}

func TestClassifySubdomainMatch(t *testing.T) {
	answer := &providers.Answer{
		Citations: []providers.RawCitation{
			{URL: "https://foo.example.com/a", Rank: 1},
		},
	}

	c := Classify(answer, "example.com")
	assert.True(t, c.DomainMentioned)
	require.NotNil(t, c.CitationPosition)
	assert.Equal(t, 1, *c.CitationPosition)
}

func TestClassifyDedupKeepsEarliestRank(t *testing.T) {
	answer := &providers.Answer{
		Citations: []providers.RawCitation{
			{URL: "https://acme.com/guide", Rank: 2},
			{URL: "https://acme.com/guide?utm=x", Rank: 4}, // same canonical URL
			{URL: "https://other.com/x", Rank: 1},
			{URL: "https://other.com/x", Rank: 5},
		},
	}

	c := Classify(answer, "acme.com")
	require.NotNil(t, c.CitationPosition)
	assert.Equal(t, 2, *c.CitationPosition)
	assert.Equal(t, 2, c.TotalSourcesCited)
	require.Len(t, c.Competitors, 1)
	assert.Equal(t, 1, c.Competitors[0].Position)
}

func TestClassifySecondTargetURLKeepsFirstPosition(t *testing.T) {
	answer := &providers.Answer{
		Citations: []providers.RawCitation{
			{URL: "https://acme.com/a", Rank: 1},
			{URL: "https://acme.com/b", Rank: 3},
		},
	}

	c := Classify(answer, "acme.com")
	require.NotNil(t, c.CitationPosition)
	assert.Equal(t, 1, *c.CitationPosition)
	assert.Len(t, c.TargetCitations, 2)
	assert.Empty(t, c.Competitors)
}

func TestClassifyUnknownHostsCountOnlyWhenRanked(t *testing.T) {
	answer := &providers.Answer{
		Citations: []providers.RawCitation{
			{URL: "mailto:x@y.com", Rank: 1}, // ranked, domain unknown
			{URL: "https://acme.com/a", Rank: 2},
			{URL: "garbage", Rank: 0}, // unranked, dropped entirely
		},
	}

	c := Classify(answer, "acme.com")
	assert.Equal(t, 2, c.TotalSourcesCited)
	assert.Empty(t, c.Competitors)
}

func TestCompetitorDomains(t *testing.T) {
	classified := Classified{
		Competitors: []CompetitorEntry{
			{Domain: "rival.io"},
			{Domain: "blog.rival.io"},
			{Domain: "unrelated.org"},
		},
	}

	matched := CompetitorDomains(classified, []string{"rival.io", "ghost.com"})
	assert.Equal(t, []string{"rival.io"}, matched)
}
