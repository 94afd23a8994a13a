package executor

import (
	"context"
	"time"
)

// ConversationRecorder captures prompt/response pairs for debugging and cost
// tracking; the default BasicExecutor wiring is a no-op until a caller opts
// in with WithConversationRecorder.
type ConversationRecorder interface {
	RecordConversation(ctx context.Context, rec ConversationRecord) error
}

// ConversationRecord describes a single executor-to-LLM interaction.
type ConversationRecord struct {
	ModelID          string
	Prompt           string
	PromptTokens     int
	Response         string
	CompletionTokens int
	TotalTokens      int
	ModelName        string
	Timestamp        time.Time
	Topic            string
}

type noopConversationRecorder struct{}

func (noopConversationRecorder) RecordConversation(context.Context, ConversationRecord) error {
	return nil
}

// ExecutorOption customises BasicExecutor construction.
type ExecutorOption func(*BasicExecutor)

// WithConversationRecorder injects a recorder for prompt/response pairs. A
// nil recorder restores the no-op default rather than leaving a nil pointer
// BasicExecutor would otherwise have to nil-check on every call.
func WithConversationRecorder(recorder ConversationRecorder) ExecutorOption {
	return func(exec *BasicExecutor) {
		if recorder == nil {
			exec.conversations = noopConversationRecorder{}
			return
		}
		exec.conversations = recorder
	}
}
