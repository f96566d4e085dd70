package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autumnsgrove/clearing-cli/internal/cost"
	"github.com/autumnsgrove/clearing-cli/internal/resilience"
)

// fakeChat scripts a sequence of results for one provider.
type fakeChat struct {
	mu      sync.Mutex
	calls   int
	results []fakeResult
}

type fakeResult struct {
	resp *Response
	err  error
}

func (f *fakeChat) Complete(_ context.Context, _ Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	r := f.results[i]
	return r.resp, r.err
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okResponse(model string) *Response {
	return &Response{
		Text:  "ok",
		Model: model,
		Usage: Usage{InputTokens: 1000, OutputTokens: 500},
	}
}

func testRegistry() *Registry {
	return NewRegistry(
		Descriptor{ID: "openrouter", Tier: TierFast, Model: "fast-model-a"},
		Descriptor{ID: "anthropic", Tier: TierFast, Model: "fast-model-b"},
	)
}

func testCalc() *cost.Calculator {
	return cost.NewCalculator(cost.Rates{
		Models: map[string]cost.ModelRate{
			"fast-model-a": {Input: 1.00, Output: 2.00},
			"fast-model-b": {Input: 3.00, Output: 6.00},
		},
	})
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

func TestInvoke_FirstProviderSucceeds(t *testing.T) {
	primary := &fakeChat{results: []fakeResult{{resp: okResponse("fast-model-a")}}}
	secondary := &fakeChat{results: []fakeResult{{resp: okResponse("fast-model-b")}}}

	ledger := NewLedger()
	inv := NewInvoker(testRegistry(), map[string]Chat{"openrouter": primary, "anthropic": secondary}, ledger, testCalc(), fastRetry())

	resp, err := inv.Invoke(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, TierFast)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	assert.Equal(t, 1, primary.callCount())
	assert.Zero(t, secondary.callCount(), "fallback should not be touched")

	snap := ledger.Snapshot()
	assert.Equal(t, int64(1), snap["openrouter"].Requests)
	assert.Zero(t, snap["anthropic"].Requests)
}

func TestInvoke_AuthAdvancesWithoutRetry(t *testing.T) {
	authErr := NewError(KindAuth, "openrouter", errors.New("invalid key"))
	primary := &fakeChat{results: []fakeResult{{err: authErr}}}
	secondary := &fakeChat{results: []fakeResult{{resp: okResponse("fast-model-b")}}}

	ledger := NewLedger()
	inv := NewInvoker(testRegistry(), map[string]Chat{"openrouter": primary, "anthropic": secondary}, ledger, testCalc(), fastRetry())

	resp, err := inv.Invoke(context.Background(), Request{}, TierFast)
	require.NoError(t, err)
	assert.Equal(t, "fast-model-b", resp.Model)

	// Auth failures get exactly one attempt.
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, secondary.callCount())
}

func TestInvoke_RateLimitRetriesSameProvider(t *testing.T) {
	rl := NewError(KindRateLimit, "openrouter", errors.New("throttled"))
	primary := &fakeChat{results: []fakeResult{
		{err: rl},
		{err: rl},
		{resp: okResponse("fast-model-a")},
	}}

	ledger := NewLedger()
	inv := NewInvoker(testRegistry(), map[string]Chat{"openrouter": primary}, ledger, testCalc(), fastRetry())

	resp, err := inv.Invoke(context.Background(), Request{}, TierFast)
	require.NoError(t, err)
	assert.Equal(t, "fast-model-a", resp.Model)
	assert.Equal(t, 3, primary.callCount())

	snap := ledger.Snapshot()
	assert.Equal(t, int64(2), snap["openrouter"].RateLimitHits)
	assert.Equal(t, int64(1), snap["openrouter"].Requests)
}

func TestInvoke_AllExhausted(t *testing.T) {
	boom := NewError(KindTransport, "openrouter", errors.New("conn refused"))
	primary := &fakeChat{results: []fakeResult{{err: boom}}}
	secondary := &fakeChat{results: []fakeResult{{err: NewError(KindAuth, "anthropic", errors.New("bad key"))}}}

	inv := NewInvoker(testRegistry(), map[string]Chat{"openrouter": primary, "anthropic": secondary}, NewLedger(), testCalc(), fastRetry())

	_, err := inv.Invoke(context.Background(), Request{}, TierFast)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersExhausted))

	// Transport errors are not retried; each candidate gets one attempt.
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, secondary.callCount())
}

func TestInvoke_TransportAdvancesWithoutRetry(t *testing.T) {
	boom := NewError(KindTransport, "openrouter", errors.New("conn reset"))
	primary := &fakeChat{results: []fakeResult{{err: boom}}}
	secondary := &fakeChat{results: []fakeResult{{resp: okResponse("fast-model-b")}}}

	inv := NewInvoker(testRegistry(), map[string]Chat{"openrouter": primary, "anthropic": secondary}, NewLedger(), testCalc(), fastRetry())

	resp, err := inv.Invoke(context.Background(), Request{}, TierFast)
	require.NoError(t, err)
	assert.Equal(t, "fast-model-b", resp.Model)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, secondary.callCount())
}

func TestInvoke_UnknownErrorAdvancesWithoutRetry(t *testing.T) {
	primary := &fakeChat{results: []fakeResult{{err: errors.New("totally unknown")}}}
	secondary := &fakeChat{results: []fakeResult{{resp: okResponse("fast-model-b")}}}

	inv := NewInvoker(testRegistry(), map[string]Chat{"openrouter": primary, "anthropic": secondary}, NewLedger(), testCalc(), fastRetry())

	resp, err := inv.Invoke(context.Background(), Request{}, TierFast)
	require.NoError(t, err)
	assert.Equal(t, "fast-model-b", resp.Model)
	assert.Equal(t, 1, primary.callCount(), "unclassified errors get a single attempt")
}

func TestInvoke_NoClients(t *testing.T) {
	inv := NewInvoker(testRegistry(), map[string]Chat{}, NewLedger(), testCalc(), fastRetry())
	_, err := inv.Invoke(context.Background(), Request{}, TierFast)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersExhausted))
}

func TestInvoke_FailedAttemptsNotBilled(t *testing.T) {
	rl := NewError(KindRateLimit, "openrouter", errors.New("throttled"))
	primary := &fakeChat{results: []fakeResult{{err: rl}, {err: rl}, {err: rl}}}
	secondary := &fakeChat{results: []fakeResult{{resp: okResponse("fast-model-b")}}}

	ledger := NewLedger()
	inv := NewInvoker(testRegistry(), map[string]Chat{"openrouter": primary, "anthropic": secondary}, ledger, testCalc(), fastRetry())

	_, err := inv.Invoke(context.Background(), Request{}, TierFast)
	require.NoError(t, err)

	snap := ledger.Snapshot()

	// All of the first provider's attempts failed: errors counted, zero cost.
	assert.Equal(t, int64(3), snap["openrouter"].Errors)
	assert.Zero(t, snap["openrouter"].Requests)
	assert.Zero(t, snap["openrouter"].CostUSD)

	// The successful call is billed at the second provider's model rate:
	// 1000 in @ $3/MTok + 500 out @ $6/MTok.
	want := 1000.0/1e6*3.00 + 500.0/1e6*6.00
	assert.InDelta(t, want, snap["anthropic"].CostUSD, 1e-9)
	assert.Equal(t, int64(1), snap["anthropic"].Requests)
}

func TestInvoke_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rl := NewError(KindRateLimit, "openrouter", errors.New("throttled"))
	primary := &fakeChat{results: []fakeResult{{err: rl}}}
	secondary := &fakeChat{results: []fakeResult{{resp: okResponse("fast-model-b")}}}

	inv := NewInvoker(testRegistry(), map[string]Chat{"openrouter": primary, "anthropic": secondary}, NewLedger(), testCalc(), fastRetry())

	_, err := inv.Invoke(ctx, Request{}, TierFast)
	require.Error(t, err)
	assert.Zero(t, secondary.callCount(), "fallback must not run after cancellation")
}

func TestHasCandidates(t *testing.T) {
	inv := NewInvoker(testRegistry(), map[string]Chat{"openrouter": &fakeChat{}}, NewLedger(), testCalc(), fastRetry())
	assert.True(t, inv.HasCandidates(TierFast))
	assert.False(t, inv.HasCandidates(TierCapable))

	empty := NewInvoker(testRegistry(), map[string]Chat{}, NewLedger(), testCalc(), fastRetry())
	assert.False(t, empty.HasCandidates(TierFast))
}
