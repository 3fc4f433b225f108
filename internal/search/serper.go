package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/circuitbreaker"
	"github.com/probelabs/deepresearch/internal/httpx"
	"github.com/probelabs/deepresearch/internal/metrics"
)

// SerperClient queries the Serper search API.
type SerperClient struct {
	base    string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

func NewSerperClient(baseURL, apiKey string, timeout time.Duration, pool *httpx.Pool, logger *zap.Logger) *SerperClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SerperClient{
		base:    strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    pool.Client(timeout),
		breaker: circuitbreaker.New("search", circuitbreaker.DefaultConfig(), logger),
		logger:  logger,
	}
}

type serperRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
	AnswerBox struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
		Title   string `json:"title"`
	} `json:"answerBox"`
	KnowledgeGraph struct {
		Title       string            `json:"title"`
		Type        string            `json:"type"`
		Description string            `json:"description"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"knowledgeGraph"`
}

// Query runs one search. numResults is clamped to [1,25].
func (c *SerperClient) Query(ctx context.Context, query string, numResults int) (*Results, error) {
	if numResults < 1 {
		numResults = 1
	}
	if numResults > 25 {
		numResults = 25
	}

	var results *Results
	start := time.Now()
	err := c.breaker.Execute(func() error {
		var innerErr error
		results, innerErr = c.query(ctx, query, numResults)
		return innerErr
	})
	metrics.AdapterLatency.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AdapterRequests.WithLabelValues("search", "error").Inc()
		return nil, err
	}
	metrics.AdapterRequests.WithLabelValues("search", "ok").Inc()
	return results, nil
}

func (c *SerperClient) query(ctx context.Context, query string, numResults int) (*Results, error) {
	payload, err := json.Marshal(serperRequest{Query: query, Num: numResults})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSearchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSearchFailed, err)
	}

	var parsed serperResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSearchFailed, err)
	}

	out := &Results{}
	for _, o := range parsed.Organic {
		out.Organic = append(out.Organic, Hit{Title: o.Title, Link: o.Link, Snippet: o.Snippet})
	}
	out.AnswerBox = renderAnswerBox(parsed)
	out.KnowledgeGraph = renderKnowledgeGraph(parsed)
	return out, nil
}

func renderAnswerBox(r serperResponse) string {
	if r.AnswerBox.Answer != "" {
		return r.AnswerBox.Answer
	}
	return r.AnswerBox.Snippet
}

func renderKnowledgeGraph(r serperResponse) string {
	kg := r.KnowledgeGraph
	if kg.Title == "" && kg.Description == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(kg.Title)
	if kg.Type != "" {
		fmt.Fprintf(&b, " (%s)", kg.Type)
	}
	if kg.Description != "" {
		b.WriteString(": ")
		b.WriteString(kg.Description)
	}
	for k, v := range kg.Attributes {
		fmt.Fprintf(&b, "\n%s: %s", k, v)
	}
	return b.String()
}

var _ WebSearch = (*SerperClient)(nil)
