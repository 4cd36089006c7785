// Package transcript persists durable conversation history keyed by session
// id. The session id itself is never deleted: only transient channel and
// interruption state is reclaimed elsewhere, while history accumulates here
// across executions and process restarts.
package transcript

import (
	"context"

	"github.com/huangjh/streamagent/pkg/models"
)

// Store is the interface for transcript persistence.
type Store interface {
	// AppendMessage appends one message to the session's history.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// History returns the session's messages in chronological order. A
	// limit of 0 returns everything.
	History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Close releases store resources.
	Close() error
}
