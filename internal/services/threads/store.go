package threads

import (
	"context"
	"errors"

	"github.com/vendora-assistant-go/internal/models"
)

// ErrThreadNotFound is returned when a thread ID does not exist.
var ErrThreadNotFound = errors.New("thread not found")

// ErrDuplicateActiveThread is returned when a concurrent writer already
// created the active thread for the same key. Callers recover by
// re-reading; it never results in two active threads.
var ErrDuplicateActiveThread = errors.New("active thread already exists for key")

// GeneralThreadTitle names the singleton thread a vendor has when no
// counterpart is involved.
const GeneralThreadTitle = "General Assistant"

// fallbackThreadTitle is used when a counterpart has no usable name.
const fallbackThreadTitle = "Conversation"

// Store owns Thread and Message persistence.
//
// Invariants the implementations must hold:
//   - at most one active thread per (owner, counterpart kind+id) key;
//   - messages are append-only and ordered by creation time;
//   - SaveTurn persists both sides atomically or not at all.
type Store interface {
	// GetOrCreate returns the active thread for the key, creating it on
	// first contact. Safe under concurrent first messages.
	GetOrCreate(ctx context.Context, ownerID string, counterpart *models.Counterpart, channel models.Channel) (*models.Thread, error)

	// SaveMessage appends a single message to the thread.
	SaveMessage(ctx context.Context, threadID string, role models.Role, content string, toolCalls []models.ToolInvocation) error

	// SaveTurn appends the requester message and the assistant reply as
	// one atomic unit. Tool-call metadata is stored with the assistant
	// side for audit.
	SaveTurn(ctx context.Context, threadID, requesterText, assistantText string, toolCalls []models.ToolInvocation) error

	// History returns up to limit of the most recent messages in
	// chronological order, with roles mapped to the LLM
	// vocabulary ("user"/"assistant"). limit <= 0 means everything.
	History(ctx context.Context, threadID string, limit int) ([]models.ChatMessage, error)

	// NewConversation deactivates the current active thread for the key
	// (messages are retained) and creates a fresh one. Idempotent under
	// retries.
	NewConversation(ctx context.Context, ownerID string, counterpart *models.Counterpart, channel models.Channel) (*models.Thread, error)

	Close() error
}

// titleFor derives the display name for a new thread.
func titleFor(counterpart *models.Counterpart) string {
	if counterpart == nil {
		return GeneralThreadTitle
	}
	if counterpart.DisplayName != "" {
		return counterpart.DisplayName
	}
	return fallbackThreadTitle
}

// keyParts normalizes the optional counterpart into storage key columns.
func keyParts(counterpart *models.Counterpart) (kind models.CounterpartKind, id string) {
	if counterpart == nil {
		return "", ""
	}
	return counterpart.Kind, counterpart.ID
}
