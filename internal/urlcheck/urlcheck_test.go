package urlcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidAcceptsRealArticleURLs(t *testing.T) {
	valid := []string{
		"https://pmc.ncbi.nlm.nih.gov/articles/PMC9945190/",
		"https://pubmed.ncbi.nlm.nih.gov/36653403/",
		"https://doi.org/10.1038/s41586-023-06221-2",
		"https://arxiv.org/abs/2301.04104",
		"https://www.nature.com/articles/s41586-023-06221-2",
		"http://clinicaltrials.gov/ct2/show/NCT04956640",
	}
	for _, u := range valid {
		assert.True(t, IsValid(u), u)
	}
}

func TestIsValidRejectsPlaceholders(t *testing.T) {
	invalid := []string{
		"https://pubmed.ncbi.nlm.nih.gov/{id}",
		"https://example.com/articles/$1",
		"https://example.com/paper/%s",
		"https://example.com/:id",
		"https://example.com/item/[id]",
		"https://example.com/view/<id>",
		"https://example.com/{slug}/detail",
	}
	for _, u := range invalid {
		assert.False(t, IsValid(u), u)
	}
}

func TestIsValidRejectsListingPages(t *testing.T) {
	invalid := []string{
		"https://pmc.ncbi.nlm.nih.gov/articles/",
		"https://www.nature.com/search",
		"https://example.com/results/",
		"https://journals.plos.org/index",
	}
	for _, u := range invalid {
		assert.False(t, IsValid(u), u)
	}
}

func TestIsValidHostSpecificIdentifiers(t *testing.T) {
	assert.False(t, IsValid("https://pmc.ncbi.nlm.nih.gov/articles/12345/"))
	assert.False(t, IsValid("https://doi.org/nature"))
	assert.False(t, IsValid("https://arxiv.org/abs/kras"))
	assert.False(t, IsValid("https://pubmed.ncbi.nlm.nih.gov/kras-review"))
}

func TestIsValidRejectsMalformed(t *testing.T) {
	invalid := []string{
		"",
		"not a url",
		"ftp://example.com/file",
		"https://localhost/paper/1",
	}
	for _, u := range invalid {
		assert.False(t, IsValid(u), u)
	}
}

func TestCleanStripsTrackingParams(t *testing.T) {
	in := "https://example.com/article/1?utm_source=x&utm_medium=y&fbclid=abc&page=2"
	out := Clean(in)
	assert.Equal(t, "https://example.com/article/1?page=2", out)

	assert.Equal(t, "https://example.com/a", Clean("https://example.com/a?utm_campaign=z"))
	assert.Equal(t, "https://example.com/a", Clean("https://example.com/a?"))
}

func TestCleanIsIdempotent(t *testing.T) {
	urls := []string{
		"https://example.com/article/1?utm_source=x&page=2",
		"https://example.com/a?",
		"https://pubmed.ncbi.nlm.nih.gov/36653403/",
		"https://example.com/a?gclid=1&ref=home",
	}
	for _, u := range urls {
		once := Clean(u)
		assert.Equal(t, once, Clean(once), u)
	}
}
