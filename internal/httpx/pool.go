// Package httpx owns the process-wide outbound HTTP connection pool shared by
// all capability adapters. One keep-alive transport, explicit Close for clean
// shutdown.
package httpx

import (
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pool wraps a single http.Transport with per-host connection caps.
type Pool struct {
	transport *http.Transport
	logger    *zap.Logger
}

// NewPool builds the shared transport. perHost bounds both idle and active
// connections to any single upstream.
func NewPool(perHost int, logger *zap.Logger) *Pool {
	if perHost < 1 {
		perHost = 1
	}
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          perHost * 4,
		MaxIdleConnsPerHost:   perHost,
		MaxConnsPerHost:       perHost,
		IdleConnTimeout:       300 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	logger.Info("HTTP connection pool initialized", zap.Int("per_host", perHost))
	return &Pool{transport: transport, logger: logger}
}

// Client returns an http.Client on the shared transport with the given total
// request timeout. Per-request cancellation still flows through the request
// context, so callers can cut a request short of the client timeout.
func (p *Pool) Client(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: p.transport,
		Timeout:   timeout,
	}
}

// Close releases idle connections. In-flight requests complete normally.
func (p *Pool) Close() {
	p.transport.CloseIdleConnections()
	p.logger.Info("HTTP connection pool closed")
}
