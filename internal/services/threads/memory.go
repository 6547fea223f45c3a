package threads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vendora-assistant-go/internal/models"
)

// MemoryStore is an in-process Store for tests and single-node dev runs.
// A single mutex serializes the check-then-create window, so the
// one-active-thread invariant holds without a database.
type MemoryStore struct {
	mu       sync.Mutex
	threads  map[string]*models.Thread
	messages map[string][]models.Message
	nextID   int64
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]*models.Thread),
		messages: make(map[string][]models.Message),
		now:      time.Now,
	}
}

// GetOrCreate returns the active thread for the key, creating it on
// first contact.
func (s *MemoryStore) GetOrCreate(_ context.Context, ownerID string, counterpart *models.Counterpart, channel models.Channel) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, cpID := keyParts(counterpart)
	if existing := s.findActiveLocked(ownerID, kind, cpID); existing != nil {
		t := *existing
		return &t, nil
	}

	thread := s.createLocked(ownerID, kind, cpID, channel, titleFor(counterpart))
	t := *thread
	return &t, nil
}

// SaveMessage appends one message.
func (s *MemoryStore) SaveMessage(_ context.Context, threadID string, role models.Role, content string, toolCalls []models.ToolInvocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return ErrThreadNotFound
	}
	s.appendLocked(threadID, role, content, toolCalls)
	return nil
}

// SaveTurn appends both sides under one lock acquisition; a reader sees
// either the whole turn or none of it.
func (s *MemoryStore) SaveTurn(_ context.Context, threadID, requesterText, assistantText string, toolCalls []models.ToolInvocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return ErrThreadNotFound
	}
	s.appendLocked(threadID, models.RoleRequester, requesterText, nil)
	s.appendLocked(threadID, models.RoleAssistant, assistantText, toolCalls)
	s.threads[threadID].UpdatedAt = s.now()
	return nil
}

// History returns the most recent messages in chronological order.
func (s *MemoryStore) History(_ context.Context, threadID string, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return nil, ErrThreadNotFound
	}

	msgs := s.messages[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	history := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, models.ChatMessage{Role: wireRole(m.Role), Content: m.Content})
	}
	return history, nil
}

// NewConversation deactivates the active thread for the key and creates
// a fresh empty one.
func (s *MemoryStore) NewConversation(_ context.Context, ownerID string, counterpart *models.Counterpart, channel models.Channel) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, cpID := keyParts(counterpart)
	if existing := s.findActiveLocked(ownerID, kind, cpID); existing != nil {
		existing.Active = false
		existing.UpdatedAt = s.now()
	}

	thread := s.createLocked(ownerID, kind, cpID, channel, titleFor(counterpart))
	t := *thread
	return &t, nil
}

// MessageCount reports how many messages a thread holds. Test helper.
func (s *MemoryStore) MessageCount(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[threadID])
}

// Messages returns a copy of a thread's raw messages. Test helper.
func (s *MemoryStore) Messages(threadID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages[threadID]))
	copy(out, s.messages[threadID])
	return out
}

// Thread returns a copy of a thread by ID. Test helper.
func (s *MemoryStore) Thread(threadID string) (*models.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, false
	}
	copied := *t
	return &copied, true
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) findActiveLocked(ownerID string, kind models.CounterpartKind, cpID string) *models.Thread {
	for _, t := range s.threads {
		if t.Active && t.OwnerID == ownerID && t.CounterpartKind == kind && t.CounterpartID == cpID {
			return t
		}
	}
	return nil
}

func (s *MemoryStore) createLocked(ownerID string, kind models.CounterpartKind, cpID string, channel models.Channel, title string) *models.Thread {
	thread := &models.Thread{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		CounterpartKind: kind,
		CounterpartID:   cpID,
		Channel:         channel,
		Title:           title,
		Active:          true,
		CreatedAt:       s.now(),
		UpdatedAt:       s.now(),
	}
	s.threads[thread.ID] = thread
	return thread
}

func (s *MemoryStore) appendLocked(threadID string, role models.Role, content string, toolCalls []models.ToolInvocation) {
	s.nextID++
	s.messages[threadID] = append(s.messages[threadID], models.Message{
		ID:        s.nextID,
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		ToolCalls: toolCalls,
		CreatedAt: s.now(),
	})
}
