package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the provider answers without any text.
var ErrEmptyCompletion = errors.New("completion returned no text")

// CompletionProvider turns a prompt into generated text. Errors are
// returned as-is; callers decide whether to retry.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatProvider is a CompletionProvider that also accepts a role-tagged
// message list.
type ChatProvider interface {
	CompletionProvider
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}
