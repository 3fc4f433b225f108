package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/httpx"
	"github.com/probelabs/deepresearch/internal/metrics"
	"github.com/probelabs/deepresearch/internal/util"
)

// JinaReader extracts page text through a Jina-style reader proxy
// (GET {base}/{url} returns markdown).
type JinaReader struct {
	base        string
	apiKey      string
	http        *http.Client
	skipDomains []string
	logger      *zap.Logger
}

func NewJinaReader(baseURL, apiKey string, timeout time.Duration, skipDomains []string,
	pool *httpx.Pool, logger *zap.Logger) *JinaReader {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &JinaReader{
		base:        strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		http:        pool.Client(timeout),
		skipDomains: skipDomains,
		logger:      logger,
	}
}

// Read fetches and extracts one page. One attempt only; any failure is
// returned as a typed *Error the caller can drop.
func (j *JinaReader) Read(ctx context.Context, target string, maxChars int) (string, error) {
	if host := hostOf(target); host != "" {
		for _, skip := range j.skipDomains {
			if skip != "" && strings.Contains(host, skip) {
				metrics.DeepFetches.WithLabelValues("skipped").Inc()
				return "", &Error{Kind: KindSkipped, URL: target}
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.base+"/"+target, nil)
	if err != nil {
		return "", &Error{Kind: KindTransport, URL: target, Err: err}
	}
	if j.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+j.apiKey)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := j.http.Do(req)
	if err != nil {
		metrics.DeepFetches.WithLabelValues("error").Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &Error{Kind: KindTimeout, URL: target, Err: err}
		}
		return "", &Error{Kind: KindTransport, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.DeepFetches.WithLabelValues("error").Inc()
		return "", &Error{Kind: KindHTTPStatus, URL: target,
			Err: errors.New(resp.Status)}
	}

	// Read a bounded amount; pages can be arbitrarily large.
	limit := int64(maxChars) * 4
	if limit < 64<<10 {
		limit = 64 << 10
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		metrics.DeepFetches.WithLabelValues("error").Inc()
		return "", &Error{Kind: KindTransport, URL: target, Err: err}
	}

	metrics.DeepFetches.WithLabelValues("ok").Inc()
	return util.HeadTail(string(data), maxChars), nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

var _ PageFetcher = (*JinaReader)(nil)
