package backend

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rampartlabs/rampart/internal/domain"
)

// mockTransport implements domain.Transport for testing
type mockTransport struct {
	mu        sync.Mutex
	available bool
	result    json.RawMessage
	err       error
	delay     time.Duration
	calls     []mockCall
}

type mockCall struct {
	channel string
	args    []any
}

func (m *mockTransport) Call(ctx context.Context, channel string, args []any) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, mockCall{channel: channel, args: args})
	delay, result, err := m.delay, m.result, m.err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *mockTransport) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *mockTransport) Subscribe(event string, h domain.EventHandler) func() {
	return func() {}
}

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestClient(tr domain.Transport) *Client {
	return NewClient(tr, DefaultClientConfig(), zap.NewNop())
}

// TestInvoke_Success verifies a healthy call passes the payload through
func TestInvoke_Success(t *testing.T) {
	tr := &mockTransport{available: true, result: json.RawMessage(`[{"id":"m1"}]`)}
	c := newTestClient(tr)

	res, err := c.Invoke(context.Background(), "machine:getAll")

	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.JSONEq(t, `[{"id":"m1"}]`, string(res.Value))
}

// TestInvoke_ForwardsArgs verifies channel and args reach the transport
func TestInvoke_ForwardsArgs(t *testing.T) {
	tr := &mockTransport{available: true, result: json.RawMessage(`null`)}
	c := newTestClient(tr)

	_, err := c.Invoke(context.Background(), "policy:createRule", "Chrome", map[string]any{"action": "Allow"})

	require.NoError(t, err)
	require.Len(t, tr.calls, 1)
	assert.Equal(t, "policy:createRule", tr.calls[0].channel)
	require.Len(t, tr.calls[0].args, 2)
	assert.Equal(t, "Chrome", tr.calls[0].args[0])
}

// TestInvoke_UnavailableFallbacks verifies category defaults when no
// backend is reachable
func TestInvoke_UnavailableFallbacks(t *testing.T) {
	cases := []struct {
		channel string
		want    string
	}{
		{"machine:getAll", `[]`},
		{"ad:getUsers", `[]`},
		{"scan:status", `{"state":"unknown"}`},
		{"telemetry:push", `null`},
	}

	for _, tc := range cases {
		t.Run(tc.channel, func(t *testing.T) {
			tr := &mockTransport{available: false}
			c := newTestClient(tr)

			res, err := c.Invoke(context.Background(), tc.channel)

			require.NoError(t, err, "transport absence must not surface as an error")
			assert.True(t, res.Fallback)
			assert.Equal(t, FallbackUnavailable, res.Reason)
			assert.Equal(t, tc.want, string(res.Value))
			assert.Equal(t, 0, tr.callCount(), "no call should reach the transport")
		})
	}
}

// TestInvoke_CollectionFallbackDecodes verifies the empty-array fallback
// decodes into a slice without special-casing
func TestInvoke_CollectionFallbackDecodes(t *testing.T) {
	tr := &mockTransport{available: false}
	c := newTestClient(tr)

	res, err := c.Invoke(context.Background(), "machine:getAll")
	require.NoError(t, err)

	var machines []domain.Machine
	require.NoError(t, res.Decode(&machines))
	assert.Empty(t, machines)
}

// TestInvoke_StatusFallbackDecodes verifies the neutral status object
func TestInvoke_StatusFallbackDecodes(t *testing.T) {
	tr := &mockTransport{available: false}
	c := newTestClient(tr)

	res, err := c.Invoke(context.Background(), "deploy:status")
	require.NoError(t, err)

	var status domain.OperationStatus
	require.NoError(t, res.Decode(&status))
	assert.Equal(t, "unknown", status.State)
}

// TestInvoke_TransportErrorFallbacks verifies generic failures degrade
func TestInvoke_TransportErrorFallbacks(t *testing.T) {
	tr := &mockTransport{available: true, err: errors.New("pipe broke")}
	c := newTestClient(tr)

	res, err := c.Invoke(context.Background(), "machine:getAll")

	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, FallbackTransport, res.Reason)
	assert.Equal(t, `[]`, string(res.Value))
}

// TestInvoke_UnavailableErrorFallbacks verifies ErrUnavailable from the
// transport maps to the unavailable reason
func TestInvoke_UnavailableErrorFallbacks(t *testing.T) {
	tr := &mockTransport{available: true, err: domain.ErrUnavailable}
	c := newTestClient(tr)

	res, err := c.Invoke(context.Background(), "evidence:getAll")

	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, FallbackUnavailable, res.Reason)
}

// TestInvoke_BackendErrorPayload verifies an {error,errorType} payload is
// surfaced as a typed error, not returned as data
func TestInvoke_BackendErrorPayload(t *testing.T) {
	tr := &mockTransport{
		available: true,
		result:    json.RawMessage(`{"error":"access denied","errorType":"Forbidden"}`),
	}
	c := newTestClient(tr)

	_, err := c.Invoke(context.Background(), "policy:createRule", "X")

	require.Error(t, err)
	var be *domain.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "policy:createRule", be.Channel)
	assert.Equal(t, "Forbidden", be.Type)
	assert.Equal(t, "access denied", be.Message)
}

// TestInvoke_BackendErrorFromTransport verifies a typed error from the
// transport passes through untouched
func TestInvoke_BackendErrorFromTransport(t *testing.T) {
	orig := &domain.BackendError{Channel: "ad:getUsers", Type: "LdapDown", Message: "no dc"}
	tr := &mockTransport{available: true, err: orig}
	c := newTestClient(tr)

	_, err := c.Invoke(context.Background(), "ad:getUsers")

	var be *domain.BackendError
	require.True(t, errors.As(err, &be))
	assert.Same(t, orig, be)
}

// TestInvoke_PlainObjectNotAnError verifies ordinary object payloads are
// not mistaken for error envelopes
func TestInvoke_PlainObjectNotAnError(t *testing.T) {
	tr := &mockTransport{
		available: true,
		result:    json.RawMessage(`{"id":"r1","name":"Chrome","error":""}`),
	}
	c := newTestClient(tr)

	res, err := c.Invoke(context.Background(), "policy:createRule")

	require.NoError(t, err)
	assert.False(t, res.Fallback)
}

// TestInvoke_ShortDeadlineTimesOut verifies a slow call degrades to the
// fallback once the short deadline fires
func TestInvoke_ShortDeadlineTimesOut(t *testing.T) {
	tr := &mockTransport{available: true, delay: 200 * time.Millisecond, result: json.RawMessage(`[]`)}
	c := NewClient(tr, ClientConfig{
		ShortDeadline: 20 * time.Millisecond,
		LongDeadline:  time.Second,
	}, zap.NewNop())

	start := time.Now()
	res, err := c.Invoke(context.Background(), "machine:getAll")

	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, FallbackTimeout, res.Reason)
	assert.Equal(t, `[]`, string(res.Value))
	assert.Less(t, time.Since(start), 150*time.Millisecond, "caller must stop waiting at the deadline")
}

// TestInvoke_LongRunningAllowList verifies deadline routing: the same
// slow call fails on a short-deadline channel and succeeds on an
// allow-listed one
func TestInvoke_LongRunningAllowList(t *testing.T) {
	cfg := ClientConfig{
		ShortDeadline: 20 * time.Millisecond,
		LongDeadline:  500 * time.Millisecond,
	}

	// scan:status is not allow-listed: short deadline applies.
	slow := &mockTransport{available: true, delay: 60 * time.Millisecond, result: json.RawMessage(`{"state":"running"}`)}
	c := NewClient(slow, cfg, zap.NewNop())

	res, err := c.Invoke(context.Background(), "scan:status")
	require.NoError(t, err)
	assert.True(t, res.Fallback, "misclassified slow call must fall back")

	// scan:start is allow-listed: the long deadline lets it finish.
	slow2 := &mockTransport{available: true, delay: 60 * time.Millisecond, result: json.RawMessage(`{"state":"running"}`)}
	c2 := NewClient(slow2, cfg, zap.NewNop())

	res, err = c2.Invoke(context.Background(), "scan:start")
	require.NoError(t, err)
	assert.False(t, res.Fallback, "allow-listed call should return the real result")
	assert.JSONEq(t, `{"state":"running"}`, string(res.Value))
}

// TestInvoke_CallerCancel verifies caller cancellation produces the
// fallback, not an error
func TestInvoke_CallerCancel(t *testing.T) {
	tr := &mockTransport{available: true, delay: time.Second, result: json.RawMessage(`[]`)}
	c := newTestClient(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := c.Invoke(ctx, "machine:getAll")

	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, FallbackTimeout, res.Reason)
}

// TestDetectBackendError verifies envelope detection edge cases
func TestDetectBackendError(t *testing.T) {
	assert.Nil(t, detectBackendError("c", nil))
	assert.Nil(t, detectBackendError("c", json.RawMessage(`null`)))
	assert.Nil(t, detectBackendError("c", json.RawMessage(`[]`)))
	assert.Nil(t, detectBackendError("c", json.RawMessage(`"error"`)))
	assert.Nil(t, detectBackendError("c", json.RawMessage(`{"error":""}`)))
	assert.Nil(t, detectBackendError("c", json.RawMessage(`{"data":1}`)))

	be := detectBackendError("c", json.RawMessage(`  {"error":"x"}`))
	require.NotNil(t, be)
	assert.Equal(t, "x", be.Message)
}
