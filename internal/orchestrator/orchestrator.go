// Package orchestrator ties a request to an execution: it resolves the human
// decision against pending interruption state, opens the session's event
// channel, and runs the execution on the bounded worker pool, classifying its
// output events onto the channel.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/huangjh/streamagent/internal/agent"
	"github.com/huangjh/streamagent/internal/channels"
	"github.com/huangjh/streamagent/internal/interrupts"
	"github.com/huangjh/streamagent/internal/observability"
	"github.com/huangjh/streamagent/internal/workers"
)

// ErrSessionBusy is returned when a request arrives for a session whose
// previous execution is still running. The caller surfaces it (HTTP 409)
// instead of killing the live stream.
var ErrSessionBusy = errors.New("session has an execution in progress")

// ErrInvalidDecision is returned for a decision parameter that is not one of
// the recognized verdicts.
var ErrInvalidDecision = errors.New("invalid decision")

// Decision is a parsed human verdict from a resume request.
type Decision string

const (
	DecisionNone    Decision = ""
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionEdit    Decision = "edit"
)

// ParseDecision normalizes a raw decision parameter. Empty means no decision.
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return DecisionNone, nil
	case "approve", "approved", "yes":
		return DecisionApprove, nil
	case "reject", "rejected", "no":
		return DecisionReject, nil
	case "edit", "edited":
		return DecisionEdit, nil
	default:
		return DecisionNone, fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
	}
}

// result maps a decision onto the per-tool feedback verdict.
func (d Decision) result() interrupts.FeedbackResult {
	switch d {
	case DecisionApprove:
		return interrupts.ResultApproved
	case DecisionReject:
		return interrupts.ResultRejected
	case DecisionEdit:
		return interrupts.ResultEdited
	default:
		return interrupts.ResultPending
	}
}

// Orchestrator coordinates executions: one per session at a time, output
// delivered through the channel registry, work bounded by the pool.
type Orchestrator struct {
	executor   agent.Executor
	registry   *channels.Registry
	interrupts *interrupts.Store
	pool       *workers.Pool
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	mu     sync.Mutex
	active map[string]struct{}
}

// Config configures an Orchestrator.
type Config struct {
	Executor      agent.Executor
	Registry      *channels.Registry
	Interruptions *interrupts.Store
	Pool          *workers.Pool
	Logger        *slog.Logger
	Metrics       *observability.Metrics
	Tracer        *observability.Tracer
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Executor == nil {
		return nil, errors.New("orchestrator: executor is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("orchestrator: channel registry is required")
	}
	if cfg.Interruptions == nil {
		return nil, errors.New("orchestrator: interruption store is required")
	}
	if cfg.Pool == nil {
		return nil, errors.New("orchestrator: worker pool is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		executor:   cfg.Executor,
		registry:   cfg.Registry,
		interrupts: cfg.Interruptions,
		pool:       cfg.Pool,
		logger:     cfg.Logger.With("component", "orchestrator"),
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		active:     make(map[string]struct{}),
	}, nil
}

// Stream handles one streaming request: it resolves any decision against the
// session's pending interruption, opens a fresh event channel, and schedules
// the execution. The returned channel is live as soon as Stream returns; the
// caller pumps it to the client.
//
// A session with an execution still in flight is rejected with ErrSessionBusy
// before any channel is opened, so a busy retry cannot tear down the stream
// the running execution is writing to.
func (o *Orchestrator) Stream(ctx context.Context, sessionID, prompt, rawDecision string) (*channels.Channel, error) {
	decision, err := ParseDecision(rawDecision)
	if err != nil {
		return nil, err
	}

	if !o.acquire(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}

	resume := o.resolveDecision(sessionID, decision)

	ch := o.registry.Open(sessionID)

	req := agent.Request{Prompt: prompt, SessionID: sessionID, Resume: resume}
	// The run outlives the request: a client disconnect or channel timeout
	// tears down delivery only, and the registry absorbs sends to a dead
	// channel. Cancellation from the request context must not reach the
	// execution.
	runCtx := context.WithoutCancel(ctx)
	if err := o.pool.Submit(func() { o.run(runCtx, req, ch) }); err != nil {
		o.logger.Warn("execution rejected", "session_id", sessionID, "error", err)
		if o.metrics != nil {
			o.metrics.ExecutionsTotal.WithLabelValues("rejected").Inc()
			if errors.Is(err, workers.ErrPoolSaturated) {
				o.metrics.PoolRejections.Inc()
			}
		}
		o.registry.Send(ch, sessionID, channels.EventError, "server busy, please retry later")
		o.registry.CompleteWithError(sessionID, err)
		o.release(sessionID)
		return nil, err
	}

	return ch, nil
}

// resolveDecision consumes the session's pending interruption exactly once
// and translates the decision onto every feedback entry. No decision, or a
// decision with nothing pending, yields a fresh turn.
func (o *Orchestrator) resolveDecision(sessionID string, decision Decision) *agent.ResumeDirective {
	if decision == DecisionNone {
		return nil
	}

	pending, ok := o.interrupts.Remove(sessionID)
	if !ok {
		o.logger.Info("decision with no pending interruption, starting fresh turn",
			"session_id", sessionID, "decision", decision)
		return nil
	}
	if o.metrics != nil {
		o.metrics.PendingInterruptions.Dec()
	}

	verdict := decision.result()
	for i := range pending.Feedback {
		pending.Feedback[i].Result = verdict
	}
	o.logger.Info("resuming interrupted execution",
		"session_id", sessionID, "decision", decision, "tools", len(pending.Feedback))
	return &agent.ResumeDirective{Interruption: pending}
}

// run drives one execution to its terminal outcome, forwarding events to the
// session's channel. It runs on a pool worker.
func (o *Orchestrator) run(ctx context.Context, req agent.Request, ch *channels.Channel) {
	defer o.release(req.SessionID)

	start := time.Now()
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "orchestrator.run",
			attribute.String("session.id", req.SessionID),
			attribute.Bool("session.resume", req.Resume != nil))
		defer span.End()
	}

	outcome := "completed"
	interrupted := false
	execution := o.executor.Execute(ctx, req)
	for event := range execution.Events() {
		if interrupted {
			// The stream for this execution is over; keep draining so the
			// producer is not blocked, but deliver nothing further.
			o.logger.Debug("event after interruption dropped", "session_id", req.SessionID, "kind", event.Kind)
			continue
		}
		switch event.Kind {
		case agent.KindModelFragment:
			if event.Reasoning != "" {
				o.registry.Send(ch, req.SessionID, channels.EventThinking, event.Reasoning)
			} else {
				o.registry.Send(ch, req.SessionID, channels.EventModel, event.Text)
			}
		case agent.KindToolFinished:
			for _, resp := range event.Responses {
				o.registry.Send(ch, req.SessionID, channels.EventTool, encodeToolResponse(resp))
			}
		case agent.KindInterruption:
			interrupted = true
			for _, fb := range event.Interruption.Feedback {
				o.registry.Send(ch, req.SessionID, channels.EventInterrupt, encodeFeedback(fb))
			}
			o.storeInterruption(req.SessionID, event.Interruption)
		case agent.KindToolStreaming:
			// Incremental tool progress is not surfaced on the wire yet.
			o.logger.Debug("tool streaming event dropped", "session_id", req.SessionID)
		default:
			o.logger.Warn("unclassified execution event", "session_id", req.SessionID, "kind", event.Kind)
		}
	}

	switch {
	case execution.Err() != nil:
		outcome = "error"
		err := execution.Err()
		o.logger.Error("execution failed", "session_id", req.SessionID, "error", err)
		o.registry.Send(ch, req.SessionID, channels.EventError, err.Error())
		o.registry.CompleteWithError(req.SessionID, err)
	case interrupted:
		outcome = "interrupted"
		o.registry.Complete(req.SessionID)
	default:
		o.registry.Send(ch, req.SessionID, channels.EventComplete, "done")
		o.registry.Complete(req.SessionID)
	}

	if o.metrics != nil {
		o.metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
		o.metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
	}
	o.logger.Info("execution finished",
		"session_id", req.SessionID, "outcome", outcome, "duration", time.Since(start))
}

func (o *Orchestrator) storeInterruption(sessionID string, p *interrupts.PendingInterruption) {
	if err := o.interrupts.Put(sessionID, p); err != nil {
		o.logger.Error("store interruption failed", "session_id", sessionID, "error", err)
		return
	}
	if o.metrics != nil {
		o.metrics.PendingInterruptions.Inc()
	}
}

// Pending returns the session's pending interruption, if any. Lookup only;
// consumption happens through a decision-carrying request.
func (o *Orchestrator) Pending(sessionID string) (*interrupts.PendingInterruption, bool) {
	return o.interrupts.Get(sessionID)
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[sessionID]; busy {
		return false
	}
	o.active[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	delete(o.active, sessionID)
	o.mu.Unlock()
}

// encodeToolResponse renders a tool response as the wire payload of a tool
// event. Marshal failure falls back to the raw data so the client still sees
// the output.
func encodeToolResponse(resp agent.ToolResponse) string {
	data, err := json.Marshal(resp)
	if err != nil {
		return resp.Data
	}
	return string(data)
}

// encodeFeedback renders one pending tool call as the wire payload of an
// interrupt event.
func encodeFeedback(fb interrupts.ToolFeedback) string {
	payload := struct {
		Message string `json:"message"`
		interrupts.ToolFeedback
	}{
		Message:      "Tool execution requires approval. Reply with decision=approve or decision=reject.",
		ToolFeedback: fb,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "tool execution requires approval"
	}
	return string(data)
}
