package channels

import (
	"log/slog"
	"sync"
	"time"

	"github.com/huangjh/streamagent/internal/observability"
)

// Registry owns the session id -> channel mapping and guarantees at most one
// live channel per session. All public operations are total: transport
// failures are logged and absorbed, never propagated, because a broken client
// connection must not crash the producing execution.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel

	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Timeout is the absolute lifetime of each channel. Defaults to
	// DefaultTimeout (10 minutes).
	Timeout time.Duration

	// Logger for channel lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional; when nil no metrics are recorded.
	Metrics *observability.Metrics
}

// NewRegistry creates an empty channel registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]*Channel),
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With("component", "channel-registry"),
		metrics:  cfg.Metrics,
	}
}

// Open creates and registers a new channel for the session. If a channel
// already exists for the id it is swapped out atomically and the old one is
// completed best-effort, so its resources are released immediately instead of
// waiting out its own timeout.
//
// Each completion callback removes the registry entry only if the entry still
// points at this exact channel instance. A stale callback from a superseded
// channel must never evict the channel that replaced it.
func (r *Registry) Open(sessionID string) *Channel {
	ch := newChannel(sessionID, r.timeout)

	ch.onCompletion = func() {
		r.logger.Info("channel completed", "session_id", sessionID)
		r.removeIf(sessionID, ch)
	}
	ch.onTimeout = func() {
		r.logger.Warn("channel timed out", "session_id", sessionID)
		r.removeIf(sessionID, ch)
	}
	ch.onError = func(err error) {
		r.logger.Error("channel closed with error", "session_id", sessionID, "error", err)
		r.removeIf(sessionID, ch)
	}

	r.mu.Lock()
	old := r.channels[sessionID]
	r.channels[sessionID] = ch
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("replacing existing channel", "session_id", sessionID)
		old.Complete()
	} else if r.metrics != nil {
		r.metrics.ActiveChannels.Inc()
	}

	r.logger.Info("channel registered", "session_id", sessionID)
	return ch
}

// Get returns the live channel for the session, if any. Lookup only.
func (r *Registry) Get(sessionID string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[sessionID]
	return ch, ok
}

// Send delivers one named event on the given channel instance. Delivery
// failure means the client is gone or the channel already completed; the
// entry is reclaimed with the same compare-and-remove discipline and the
// failure is logged. Callers must not assume delivery succeeded.
func (r *Registry) Send(ch *Channel, sessionID, name, data string) {
	if ch == nil {
		r.logger.Warn("send with no channel", "session_id", sessionID, "event", name)
		return
	}
	if err := ch.Send(name, data); err != nil {
		r.logger.Warn("send failed", "session_id", sessionID, "event", name, "error", err)
		if r.metrics != nil {
			r.metrics.EventSendFailures.Inc()
		}
		r.cleanup(sessionID, ch)
		return
	}
	if r.metrics != nil {
		r.metrics.EventsSent.WithLabelValues(name).Inc()
	}
}

// Complete removes the session's channel and closes it normally.
func (r *Registry) Complete(sessionID string) {
	r.mu.Lock()
	ch := r.channels[sessionID]
	delete(r.channels, sessionID)
	r.mu.Unlock()

	if ch != nil {
		if r.metrics != nil {
			r.metrics.ActiveChannels.Dec()
		}
		ch.Complete()
	}
}

// CompleteWithError removes the session's channel and closes it with the
// given terminal error.
func (r *Registry) CompleteWithError(sessionID string, cause error) {
	r.mu.Lock()
	ch := r.channels[sessionID]
	delete(r.channels, sessionID)
	r.mu.Unlock()

	if ch != nil {
		if r.metrics != nil {
			r.metrics.ActiveChannels.Dec()
		}
		ch.CompleteWithError(cause)
	}
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// removeIf removes the entry for sessionID only when it still maps to ch.
func (r *Registry) removeIf(sessionID string, ch *Channel) {
	r.mu.Lock()
	current, ok := r.channels[sessionID]
	if ok && current == ch {
		delete(r.channels, sessionID)
		ok = true
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok && r.metrics != nil {
		r.metrics.ActiveChannels.Dec()
	}
}

// cleanup reclaims a broken channel: compare-and-remove, then a best-effort
// close whose own failure is ignored.
func (r *Registry) cleanup(sessionID string, ch *Channel) {
	r.removeIf(sessionID, ch)
	ch.Complete()
}
