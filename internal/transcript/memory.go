package transcript

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huangjh/streamagent/pkg/models"
)

// maxMessagesPerSession caps in-memory history per session to prevent
// unbounded growth; older messages are trimmed when exceeded.
const maxMessagesPerSession = 1000

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*models.Message
}

// NewMemoryStore creates an empty in-memory transcript store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]*models.Message)}
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.SessionID = sessionID

	history := append(m.messages[sessionID], clone)
	if len(history) > maxMessagesPerSession {
		history = history[len(history)-maxMessagesPerSession:]
	}
	m.messages[sessionID] = history
	return nil
}

func (m *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.messages[sessionID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	result := make([]*models.Message, len(history))
	for i, msg := range history {
		result[i] = cloneMessage(msg)
	}
	return result, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	if msg.Metadata != nil {
		clone.Metadata = make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			clone.Metadata[k] = v
		}
	}
	clone.ToolCalls = append([]models.ToolCall(nil), msg.ToolCalls...)
	clone.ToolResults = append([]models.ToolResult(nil), msg.ToolResults...)
	return &clone
}
