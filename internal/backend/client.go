package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/domain"
)

// FallbackReason says why a fallback value was substituted.
type FallbackReason string

const (
	FallbackNone        FallbackReason = ""
	FallbackUnavailable FallbackReason = "unavailable"
	FallbackTimeout     FallbackReason = "timeout"
	FallbackTransport   FallbackReason = "transport_error"
)

// Result is what one channel invocation resolves to. Fallback results
// carry the category default in Value and the reason it was substituted;
// write-path callers check Fallback before trusting the outcome.
type Result struct {
	Value    json.RawMessage
	Fallback bool
	Reason   FallbackReason
}

// Decode unmarshals the result payload into out.
func (r Result) Decode(out any) error {
	return json.Unmarshal(r.Value, out)
}

// ClientConfig tunes the call deadlines. Zero values use the defaults;
// tests shrink them.
type ClientConfig struct {
	ShortDeadline time.Duration
	LongDeadline  time.Duration
}

// DefaultClientConfig returns the standard deadlines.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ShortDeadline: DefaultShortDeadline,
		LongDeadline:  DefaultLongDeadline,
	}
}

// Invoker is the invocation surface the scheduler and repositories
// depend on.
type Invoker interface {
	Invoke(ctx context.Context, channel string, args ...any) (Result, error)
}

// Client invokes backend channels with per-call deadlines and category
// fallbacks. Transport and timeout failures never surface as errors:
// callers get the category default and one warning is logged. The only
// error this layer returns is a *domain.BackendError from an explicit
// backend error payload.
type Client struct {
	transport domain.Transport
	cfg       ClientConfig
	logger    *zap.Logger
}

// NewClient creates a call client over the given transport.
func NewClient(transport domain.Transport, cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.ShortDeadline <= 0 {
		cfg.ShortDeadline = DefaultShortDeadline
	}
	if cfg.LongDeadline <= 0 {
		cfg.LongDeadline = DefaultLongDeadline
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
	}
}

// callOutcome carries the transport result across the race.
type callOutcome struct {
	raw json.RawMessage
	err error
}

// Invoke calls a channel and waits for the result, the deadline, or ctx
// cancellation, whichever comes first. The deadline is the short one
// unless the channel is on the long-running allow-list. An abandoned
// call keeps its goroutine only until the transport notices the
// canceled context; the buffered channel lets it finish either way.
func (c *Client) Invoke(ctx context.Context, channel string, args ...any) (Result, error) {
	category := CategoryOf(channel)

	if !c.transport.Available() {
		c.logger.Warn("backend unavailable, substituting fallback",
			zap.String("channel", channel),
			zap.Stringer("category", category))
		return fallbackResult(category, FallbackUnavailable), nil
	}

	deadline := c.cfg.ShortDeadline
	if IsLongRunning(channel) {
		deadline = c.cfg.LongDeadline
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ch := make(chan callOutcome, 1)
	go func() {
		raw, err := c.transport.Call(callCtx, channel, args)
		ch <- callOutcome{raw: raw, err: err}
	}()

	select {
	case out := <-ch:
		return c.finish(channel, category, out)
	case <-callCtx.Done():
		c.logger.Warn("backend call abandoned, substituting fallback",
			zap.String("channel", channel),
			zap.Stringer("category", category),
			zap.Duration("deadline", deadline),
			zap.Error(callCtx.Err()))
		return fallbackResult(category, FallbackTimeout), nil
	}
}

func (c *Client) finish(channel string, category Category, out callOutcome) (Result, error) {
	if out.err != nil {
		var be *domain.BackendError
		if errors.As(out.err, &be) {
			return Result{}, out.err
		}
		if errors.Is(out.err, domain.ErrUnavailable) {
			c.logger.Warn("backend unavailable, substituting fallback",
				zap.String("channel", channel),
				zap.Stringer("category", category),
				zap.Error(out.err))
			return fallbackResult(category, FallbackUnavailable), nil
		}
		// A transport that honors the per-call context reports the
		// deadline itself; same outcome as losing the race.
		if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled) {
			c.logger.Warn("backend call abandoned, substituting fallback",
				zap.String("channel", channel),
				zap.Stringer("category", category),
				zap.Error(out.err))
			return fallbackResult(category, FallbackTimeout), nil
		}
		c.logger.Warn("backend call failed, substituting fallback",
			zap.String("channel", channel),
			zap.Stringer("category", category),
			zap.Error(out.err))
		return fallbackResult(category, FallbackTransport), nil
	}

	if be := detectBackendError(channel, out.raw); be != nil {
		return Result{}, be
	}
	return Result{Value: out.raw}, nil
}

func fallbackResult(category Category, reason FallbackReason) Result {
	return Result{
		Value:    FallbackValue(category),
		Fallback: true,
		Reason:   reason,
	}
}

// errorEnvelope is the explicit failure shape the backend can return as
// a successful payload. The client must treat it as a failure, never as
// data.
type errorEnvelope struct {
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

func detectBackendError(channel string, raw json.RawMessage) *domain.BackendError {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env errorEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	if env.Error == "" {
		return nil
	}
	return &domain.BackendError{
		Channel: channel,
		Type:    env.ErrorType,
		Message: env.Error,
	}
}

// Ensure Client implements Invoker.
var _ Invoker = (*Client)(nil)
