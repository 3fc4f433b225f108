// Package search abstracts web search providers. Results come back as
// structured provider JSON; URLs are never scraped out of formatted text.
package search

import (
	"context"
	"errors"
)

// ErrSearchFailed marks upstream search failures after the breaker and
// transport layers have given up.
var ErrSearchFailed = errors.New("search: provider failure")

// Hit is one organic search result.
type Hit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Results is one provider response. AnswerBox and KnowledgeGraph carry
// pre-rendered summary text when the provider supplies them.
type Results struct {
	Organic        []Hit
	AnswerBox      string
	KnowledgeGraph string
}

// WebSearch is the search capability.
type WebSearch interface {
	Query(ctx context.Context, query string, numResults int) (*Results, error)
}
