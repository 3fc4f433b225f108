package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/probelabs/deepresearch/internal/circuitbreaker"
	"github.com/probelabs/deepresearch/internal/httpx"
	"github.com/probelabs/deepresearch/internal/metrics"
)

// Client talks to any OpenAI-compatible chat completion endpoint (DeepSeek,
// OpenAI, local gateways). No retries: failed completions surface to the
// caller, which converts them to placeholder results.
type Client struct {
	base    string
	apiKey  string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// RateLimit is requests per minute; 0 disables client-side pacing.
	RateLimit int
}

func NewClient(opts ClientOptions, pool *httpx.Pool, logger *zap.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RateLimit)/60.0), 1)
	}
	return &Client{
		base:    strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		http:    pool.Client(timeout),
		limiter: limiter,
		breaker: circuitbreaker.New("llm", circuitbreaker.DefaultConfig(), logger),
		logger:  logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete sends one chat completion. Context cancellation interrupts the
// in-flight HTTP request.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrProviderTimeout, err)
		}
	}

	var content string
	start := time.Now()
	err := c.breaker.Execute(func() error {
		var innerErr error
		content, innerErr = c.complete(ctx, req)
		return innerErr
	})
	metrics.AdapterLatency.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AdapterRequests.WithLabelValues("llm", "error").Inc()
		return "", err
	}
	metrics.AdapterRequests.WithLabelValues("llm", "ok").Inc()
	return content, nil
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrProviderTimeout, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrProviderError, err)
	}

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return "", ErrContextTooLarge
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrProviderError, resp.StatusCode)
	case resp.StatusCode >= 400:
		var parsed chatResponse
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != nil {
			if strings.Contains(parsed.Error.Message, "context") ||
				strings.Contains(parsed.Error.Message, "maximum") {
				return "", fmt.Errorf("%w: %s", ErrContextTooLarge, parsed.Error.Message)
			}
			return "", fmt.Errorf("%w: %s", ErrProviderError, parsed.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d", ErrProviderError, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderError, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrProviderError)
	}
	return parsed.Choices[0].Message.Content, nil
}

var _ ChatModel = (*Client)(nil)
