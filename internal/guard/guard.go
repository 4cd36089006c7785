// Package guard enforces the context token budget before every model call.
//
// The guard runs as a pre-model hook inside an execution: it estimates the
// token cost of the pending history and, when the budget is exceeded,
// synchronously replaces the entire history with one compacted summary. The
// replacement is a full substitution, never a partial truncation, so
// downstream state cannot retain pre-compaction messages.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/huangjh/streamagent/internal/channels"
	"github.com/huangjh/streamagent/internal/observability"
	"github.com/huangjh/streamagent/internal/tokens"
	"github.com/huangjh/streamagent/pkg/models"
)

// DefaultTokenBudget is the estimated-unit ceiling above which history is
// compacted.
const DefaultTokenBudget = 100_000

// Compactor summarizes conversation history into a single replacement text.
type Compactor interface {
	Compress(ctx context.Context, history []*models.Message) (string, error)
}

// Guard is the pre-model context budget hook.
type Guard struct {
	budget    int
	compactor Compactor
	registry  *channels.Registry
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Config configures a Guard.
type Config struct {
	// TokenBudget is the estimated-unit ceiling. Defaults to
	// DefaultTokenBudget.
	TokenBudget int

	// Compactor performs the synchronous summarization (required).
	Compactor Compactor

	// Registry delivers the compaction progress notification to the
	// session's channel when one is registered. Optional: with no registry
	// (or no live channel) compaction proceeds and the notification is
	// dropped.
	Registry *channels.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observability.Metrics
}

// New creates a Guard.
func New(cfg Config) (*Guard, error) {
	if cfg.Compactor == nil {
		return nil, fmt.Errorf("guard: compactor is required")
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{
		budget:    cfg.TokenBudget,
		compactor: cfg.Compactor,
		registry:  cfg.Registry,
		logger:    cfg.Logger.With("component", "budget-guard"),
		metrics:   cfg.Metrics,
	}, nil
}

// Budget returns the configured ceiling.
func (g *Guard) Budget() int { return g.budget }

// BeforeModel prepares the history for the upcoming model call. Blank
// messages are dropped; the total is re-estimated on every invocation because
// history mutates between calls. Under budget, the filtered history passes
// through unchanged. Over budget, the whole history is replaced with one
// synthesized message carrying the compacted summary. A compaction failure is
// fatal for the current model call: falling back to the oversized history
// would defeat the guard.
func (g *Guard) BeforeModel(ctx context.Context, history []*models.Message, sessionID string) ([]*models.Message, error) {
	filtered := dropBlank(history)

	total := tokens.EstimateHistory(filtered)
	if total <= g.budget {
		return filtered, nil
	}

	g.logger.Info("token budget exceeded, compacting context",
		"session_id", sessionID, "estimated_tokens", total, "budget", g.budget)

	if g.registry != nil {
		if ch, ok := g.registry.Get(sessionID); ok {
			g.registry.Send(ch, sessionID, channels.EventContext,
				fmt.Sprintf("Context tokens: %d exceed limit: %d, performing compression...", total, g.budget))
		}
	}

	start := time.Now()
	summary, err := g.compactor.Compress(ctx, filtered)
	elapsed := time.Since(start)
	if err != nil {
		if g.metrics != nil {
			g.metrics.CompactionsTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("context compaction: %w", err)
	}

	g.logger.Info("context compaction completed",
		"session_id", sessionID, "duration_ms", elapsed.Milliseconds())
	if g.metrics != nil {
		g.metrics.CompactionsTotal.WithLabelValues("success").Inc()
		g.metrics.CompactionDuration.Observe(elapsed.Seconds())
	}

	return []*models.Message{{
		Role:      models.RoleUser,
		Content:   summary,
		CreatedAt: time.Now(),
	}}, nil
}

func dropBlank(history []*models.Message) []*models.Message {
	filtered := make([]*models.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		// A message with tool calls or results is not blank even when its
		// text is empty; dropping it would corrupt an in-flight tool loop.
		if strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) == 0 && len(msg.ToolResults) == 0 {
			continue
		}
		filtered = append(filtered, msg)
	}
	return filtered
}
