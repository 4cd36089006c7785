package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/huangjh/streamagent/internal/interrupts"
	"github.com/huangjh/streamagent/internal/llm"
	"github.com/huangjh/streamagent/internal/observability"
	"github.com/huangjh/streamagent/internal/transcript"
	"github.com/huangjh/streamagent/pkg/models"
)

// stateKeyToolCalls is the interruption state key holding the paused
// assistant turn's tool calls, so the resumed execution can reconstruct the
// turn it paused in the middle of.
const stateKeyToolCalls = "tool_calls"

// stateKeyAssistantText holds the assistant text produced before the pause.
const stateKeyAssistantText = "assistant_text"

// interruptNodeID names the execution node that pauses for tool approval.
const interruptNodeID = "tool_approval"

// defaultMaxIterations bounds the model/tool loop of one execution.
const defaultMaxIterations = 8

// BeforeModelHook prepares history immediately before each model call. The
// context budget guard implements this.
type BeforeModelHook interface {
	BeforeModel(ctx context.Context, history []*models.Message, sessionID string) ([]*models.Message, error)
}

// ApprovalRule marks a tool as requiring human approval before execution.
type ApprovalRule struct {
	Tool        string
	Description string
}

// ModelRunner is the default Executor: it drives a provider-backed
// model/tool loop over the session's durable transcript, pausing for human
// approval when a requested tool matches an approval rule.
type ModelRunner struct {
	provider     llm.Provider
	hook         BeforeModelHook
	store        transcript.Store
	tools        map[string]llm.Tool
	approval     map[string]string // tool name -> approval description
	systemPrompt string
	model        string
	historyLimit int
	maxIter      int
	thinking     bool
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// RunnerConfig configures a ModelRunner.
type RunnerConfig struct {
	// Provider is the LLM backend (required).
	Provider llm.Provider

	// Hook runs before every model call (required); injects the context
	// budget guard.
	Hook BeforeModelHook

	// Store is the durable transcript keyed by session id (required).
	Store transcript.Store

	// Tools available to the model.
	Tools []llm.Tool

	// Approval lists tools that must pause for a human decision.
	Approval []ApprovalRule

	// SystemPrompt sets the assistant's behavior.
	SystemPrompt string

	// Model overrides the provider's default model.
	Model string

	// HistoryLimit caps how many transcript messages are loaded per
	// execution. Zero loads everything.
	HistoryLimit int

	// MaxIterations bounds the model/tool loop. Default 8.
	MaxIterations int

	// EnableThinking requests extended reasoning from capable models.
	EnableThinking bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observability.Metrics
}

// NewModelRunner creates a ModelRunner.
func NewModelRunner(cfg RunnerConfig) (*ModelRunner, error) {
	if cfg.Provider == nil {
		return nil, errors.New("runner: provider is required")
	}
	if cfg.Hook == nil {
		return nil, errors.New("runner: before-model hook is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("runner: transcript store is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	tools := make(map[string]llm.Tool, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		tools[tool.Name()] = tool
	}
	approval := make(map[string]string, len(cfg.Approval))
	for _, rule := range cfg.Approval {
		approval[rule.Tool] = rule.Description
	}

	return &ModelRunner{
		provider:     cfg.Provider,
		hook:         cfg.Hook,
		store:        cfg.Store,
		tools:        tools,
		approval:     approval,
		systemPrompt: cfg.SystemPrompt,
		model:        cfg.Model,
		historyLimit: cfg.HistoryLimit,
		maxIter:      cfg.MaxIterations,
		thinking:     cfg.EnableThinking,
		logger:       cfg.Logger.With("component", "model-runner"),
		metrics:      cfg.Metrics,
	}, nil
}

// Execute starts one execution and returns its Run immediately. The run
// produces events from its own goroutine.
func (m *ModelRunner) Execute(ctx context.Context, req Request) *Run {
	run := NewRun()
	go m.execute(ctx, req, run)
	return run
}

func (m *ModelRunner) execute(ctx context.Context, req Request, run *Run) {
	history, err := m.store.History(ctx, req.SessionID, m.historyLimit)
	if err != nil {
		run.Finish(fmt.Errorf("load history: %w", err))
		return
	}

	if req.Resume != nil && req.Resume.Interruption != nil {
		history, err = m.resume(ctx, req, req.Resume.Interruption, history, run)
		if err != nil {
			run.Finish(err)
			return
		}
	}

	if strings.TrimSpace(req.Prompt) != "" {
		userMsg := &models.Message{Role: models.RoleUser, Content: req.Prompt, CreatedAt: time.Now()}
		if err := m.store.AppendMessage(ctx, req.SessionID, userMsg); err != nil {
			run.Finish(fmt.Errorf("append prompt: %w", err))
			return
		}
		history = append(history, userMsg)
	}

	for iteration := 0; iteration < m.maxIter; iteration++ {
		history, err = m.hook.BeforeModel(ctx, history, req.SessionID)
		if err != nil {
			run.Finish(err)
			return
		}

		text, toolCalls, err := m.streamModelTurn(ctx, history, run)
		if err != nil {
			run.Finish(err)
			return
		}

		if len(toolCalls) == 0 {
			assistant := &models.Message{Role: models.RoleAssistant, Content: text, CreatedAt: time.Now()}
			if err := m.store.AppendMessage(ctx, req.SessionID, assistant); err != nil {
				m.logger.Warn("append assistant turn failed", "session_id", req.SessionID, "error", err)
			}
			run.Finish(nil)
			return
		}

		if m.needsApproval(toolCalls) {
			run.Emit(Event{
				Kind:         KindInterruption,
				Interruption: m.buildInterruption(text, toolCalls),
			})
			// The run ends here without a terminal outcome; the next request
			// carrying a decision resumes the session.
			run.Finish(nil)
			return
		}

		assistant := &models.Message{Role: models.RoleAssistant, Content: text, ToolCalls: toolCalls, CreatedAt: time.Now()}
		results, responses := m.executeTools(ctx, toolCalls)
		run.Emit(Event{Kind: KindToolFinished, Responses: responses})

		toolMsg := &models.Message{Role: models.RoleTool, ToolResults: results, CreatedAt: time.Now()}
		for _, msg := range []*models.Message{assistant, toolMsg} {
			if err := m.store.AppendMessage(ctx, req.SessionID, msg); err != nil {
				m.logger.Warn("append tool turn failed", "session_id", req.SessionID, "error", err)
			}
		}
		history = append(history, assistant, toolMsg)
	}

	run.Finish(fmt.Errorf("max iterations (%d) exceeded", m.maxIter))
}

// streamModelTurn performs one model call, forwarding fragments as events and
// returning the accumulated text and any requested tool calls.
func (m *ModelRunner) streamModelTurn(ctx context.Context, history []*models.Message, run *Run) (string, []models.ToolCall, error) {
	start := time.Now()
	chunks, err := m.provider.Complete(ctx, &llm.CompletionRequest{
		Model:          m.model,
		System:         m.systemPrompt,
		Messages:       history,
		Tools:          m.toolList(),
		EnableThinking: m.thinking,
	})
	if err != nil {
		return "", nil, fmt.Errorf("model call: %w", err)
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			return "", nil, chunk.Error
		case chunk.Thinking != "":
			run.Emit(Event{Kind: KindModelFragment, Reasoning: chunk.Thinking})
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			run.Emit(Event{Kind: KindModelFragment, Text: chunk.Text})
		case chunk.ToolCall != nil:
			toolCalls = append(toolCalls, *chunk.ToolCall)
		case chunk.Done:
			m.recordUsage(chunk, time.Since(start))
		}
	}
	return text.String(), toolCalls, nil
}

func (m *ModelRunner) recordUsage(chunk *llm.CompletionChunk, elapsed time.Duration) {
	if m.metrics == nil {
		return
	}
	model := m.model
	if model == "" {
		model = "default"
	}
	provider := m.provider.Name()
	m.metrics.LLMRequestDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	if chunk.InputTokens > 0 {
		m.metrics.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(chunk.InputTokens))
	}
	if chunk.OutputTokens > 0 {
		m.metrics.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(chunk.OutputTokens))
	}
}

func (m *ModelRunner) needsApproval(toolCalls []models.ToolCall) bool {
	for _, tc := range toolCalls {
		if _, ok := m.approval[tc.Name]; ok {
			return true
		}
	}
	return false
}

// buildInterruption snapshots the paused turn: every requested tool call
// becomes a PENDING feedback entry, and the state keeps what is needed to
// reconstruct the assistant turn on resume.
func (m *ModelRunner) buildInterruption(text string, toolCalls []models.ToolCall) *interrupts.PendingInterruption {
	feedback := make([]interrupts.ToolFeedback, 0, len(toolCalls))
	for _, tc := range toolCalls {
		feedback = append(feedback, interrupts.ToolFeedback{
			ID:          tc.ID,
			Name:        tc.Name,
			Arguments:   string(tc.Input),
			Description: m.approval[tc.Name],
			Result:      interrupts.ResultPending,
		})
	}
	return &interrupts.PendingInterruption{
		NodeID: interruptNodeID,
		State: map[string]any{
			stateKeyAssistantText: text,
			stateKeyToolCalls:     toolCalls,
		},
		Feedback: feedback,
	}
}

// resume replays the paused turn with the human verdicts applied: approved
// (and edited, which currently degrades to approval) tool calls execute,
// rejected ones produce an error result the model can react to. The
// reconstructed assistant and tool messages are persisted so the transcript
// stays coherent.
func (m *ModelRunner) resume(ctx context.Context, req Request, interruption *interrupts.PendingInterruption, history []*models.Message, run *Run) ([]*models.Message, error) {
	toolCalls := pausedToolCalls(interruption)
	text, _ := interruption.State[stateKeyAssistantText].(string)

	results := make([]models.ToolResult, 0, len(interruption.Feedback))
	responses := make([]ToolResponse, 0, len(interruption.Feedback))
	for _, fb := range interruption.Feedback {
		switch fb.Result {
		case interrupts.ResultApproved, interrupts.ResultEdited:
			result := m.runTool(ctx, models.ToolCall{ID: fb.ID, Name: fb.Name, Input: json.RawMessage(fb.Arguments)})
			results = append(results, result)
			responses = append(responses, ToolResponse{ID: fb.ID, Name: fb.Name, Data: result.Content})
		case interrupts.ResultRejected:
			results = append(results, models.ToolResult{
				ToolCallID: fb.ID,
				Content:    "Tool execution rejected by user",
				IsError:    true,
			})
			responses = append(responses, ToolResponse{ID: fb.ID, Name: fb.Name, Data: "rejected"})
		default:
			return nil, fmt.Errorf("resume with unresolved feedback %q for tool %s", fb.Result, fb.Name)
		}
	}
	run.Emit(Event{Kind: KindToolFinished, Responses: responses})

	assistant := &models.Message{Role: models.RoleAssistant, Content: text, ToolCalls: toolCalls, CreatedAt: time.Now()}
	toolMsg := &models.Message{Role: models.RoleTool, ToolResults: results, CreatedAt: time.Now()}
	for _, msg := range []*models.Message{assistant, toolMsg} {
		if err := m.store.AppendMessage(ctx, req.SessionID, msg); err != nil {
			m.logger.Warn("append resumed turn failed", "session_id", req.SessionID, "error", err)
		}
	}
	return append(history, assistant, toolMsg), nil
}

func (m *ModelRunner) executeTools(ctx context.Context, toolCalls []models.ToolCall) ([]models.ToolResult, []ToolResponse) {
	results := make([]models.ToolResult, 0, len(toolCalls))
	responses := make([]ToolResponse, 0, len(toolCalls))
	for _, tc := range toolCalls {
		result := m.runTool(ctx, tc)
		results = append(results, result)
		responses = append(responses, ToolResponse{ID: tc.ID, Name: tc.Name, Data: result.Content})
	}
	return results, responses
}

func (m *ModelRunner) runTool(ctx context.Context, tc models.ToolCall) models.ToolResult {
	tool, ok := m.tools[tc.Name]
	if !ok {
		return models.ToolResult{ToolCallID: tc.ID, Content: fmt.Sprintf("tool not found: %s", tc.Name), IsError: true}
	}
	output, err := tool.Execute(ctx, tc.Input)
	if err != nil {
		m.logger.Warn("tool execution failed", "tool", tc.Name, "error", err)
		return models.ToolResult{ToolCallID: tc.ID, Content: err.Error(), IsError: true}
	}
	return models.ToolResult{ToolCallID: tc.ID, Content: output}
}

func (m *ModelRunner) toolList() []llm.Tool {
	if len(m.tools) == 0 {
		return nil
	}
	list := make([]llm.Tool, 0, len(m.tools))
	for _, tool := range m.tools {
		list = append(list, tool)
	}
	return list
}

// pausedToolCalls recovers the paused turn's tool calls from the state
// snapshot, falling back to the feedback entries when the snapshot was
// serialized through a non-native store.
func pausedToolCalls(interruption *interrupts.PendingInterruption) []models.ToolCall {
	if calls, ok := interruption.State[stateKeyToolCalls].([]models.ToolCall); ok {
		return calls
	}
	calls := make([]models.ToolCall, 0, len(interruption.Feedback))
	for _, fb := range interruption.Feedback {
		calls = append(calls, models.ToolCall{ID: fb.ID, Name: fb.Name, Input: json.RawMessage(fb.Arguments)})
	}
	return calls
}
