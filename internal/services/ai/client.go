// Package ai wraps the OpenAI-compatible completion endpoint behind a
// tier-addressed client. Provider responses are decoded exactly once, at
// this boundary, into a tagged Completion variant.
package ai

import (
	"context"

	"github.com/vendora-assistant-go/internal/models"
	"github.com/vendora-assistant-go/internal/services/tools"
)

// Kind tags the shape of a completion.
type Kind int

const (
	// KindEmpty means the provider returned no choices; callers treat it
	// as a degenerate final answer, never a crash.
	KindEmpty Kind = iota
	// KindFinal is a plain content answer.
	KindFinal
	// KindToolRequested means the model wants tools run before answering.
	KindToolRequested
)

// Completion is the decoded provider response.
type Completion struct {
	Kind      Kind
	Content   string
	ToolCalls []models.ToolInvocation
}

// Role constants for loop-internal messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the working context sent to the provider.
// Assistant entries may carry the tool calls they made; tool entries
// carry the ID of the call they answer.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []models.ToolInvocation
	ToolCallID string
}

// Client is the LLM completion collaborator.
type Client interface {
	// Complete runs one synchronous completion on the model behind the
	// given tier. It may fail; callers own the error path.
	Complete(ctx context.Context, tier models.Tier, messages []Message, defs []tools.Definition) (*Completion, error)
}
