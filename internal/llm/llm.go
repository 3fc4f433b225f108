// Package llm abstracts chat-completion providers behind a small interface so
// the engine never touches vendor SDKs directly.
package llm

import (
	"context"
	"errors"

	"github.com/probelabs/deepresearch/internal/models"
)

var (
	// ErrProviderTimeout marks a completion that exceeded its deadline.
	ErrProviderTimeout = errors.New("llm: provider timeout")
	// ErrProviderError marks upstream 5xx or transport failures.
	ErrProviderError = errors.New("llm: provider error")
	// ErrContextTooLarge marks a request rejected for exceeding the model's
	// context window.
	ErrContextTooLarge = errors.New("llm: context too large")
)

// Request is one completion call.
type Request struct {
	Messages    []models.Message
	Temperature float64
	MaxTokens   int
}

// ChatModel is the completion capability. Implementations must honor ctx
// cancellation so soft-exit deadlines can cut a pending request short.
type ChatModel interface {
	Complete(ctx context.Context, req Request) (string, error)
}
