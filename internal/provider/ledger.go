package provider

import (
	"sync"
	"sync/atomic"
)

// microDollarsPerDollar converts between float dollars and the integer
// micro-dollar unit the ledger accumulates in.
const microDollarsPerDollar = 1_000_000

// counters holds the atomic accumulators for one provider.
type counters struct {
	requests      atomic.Int64
	inputTokens   atomic.Int64
	outputTokens  atomic.Int64
	costMicroUSD  atomic.Int64
	errors        atomic.Int64
	rateLimitHits atomic.Int64
}

// ProviderUsage is a point-in-time snapshot of one provider's counters.
type ProviderUsage struct {
	Requests      int64   `json:"requests"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	CostUSD       float64 `json:"cost_usd"`
	Errors        int64   `json:"errors"`
	RateLimitHits int64   `json:"rate_limit_hits"`
}

// Ledger accumulates per-provider usage. All methods are safe for
// concurrent use; recording is lock-free once a provider's counters exist.
type Ledger struct {
	mu        sync.RWMutex
	providers map[string]*counters
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{providers: make(map[string]*counters)}
}

func (l *Ledger) get(providerID string) *counters {
	l.mu.RLock()
	c, ok := l.providers[providerID]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok = l.providers[providerID]; ok {
		return c
	}
	c = &counters{}
	l.providers[providerID] = c
	return c
}

// RecordSuccess charges one successful completion to the provider. Cost is
// only ever accrued here: failed attempts are never billed.
func (l *Ledger) RecordSuccess(providerID string, usage Usage, costUSD float64) {
	c := l.get(providerID)
	c.requests.Add(1)
	c.inputTokens.Add(usage.InputTokens)
	c.outputTokens.Add(usage.OutputTokens)
	c.costMicroUSD.Add(int64(costUSD * microDollarsPerDollar))
}

// RecordError counts one failed attempt against the provider.
func (l *Ledger) RecordError(providerID string, kind ErrorKind) {
	c := l.get(providerID)
	c.errors.Add(1)
	if kind == KindRateLimit {
		c.rateLimitHits.Add(1)
	}
}

// Snapshot returns a copy of all per-provider usage.
func (l *Ledger) Snapshot() map[string]ProviderUsage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]ProviderUsage, len(l.providers))
	for id, c := range l.providers {
		out[id] = ProviderUsage{
			Requests:      c.requests.Load(),
			InputTokens:   c.inputTokens.Load(),
			OutputTokens:  c.outputTokens.Load(),
			CostUSD:       float64(c.costMicroUSD.Load()) / microDollarsPerDollar,
			Errors:        c.errors.Load(),
			RateLimitHits: c.rateLimitHits.Load(),
		}
	}
	return out
}

// Totals aggregates usage across all providers.
func (l *Ledger) Totals() ProviderUsage {
	var total ProviderUsage
	for _, u := range l.Snapshot() {
		total.Requests += u.Requests
		total.InputTokens += u.InputTokens
		total.OutputTokens += u.OutputTokens
		total.CostUSD += u.CostUSD
		total.Errors += u.Errors
		total.RateLimitHits += u.RateLimitHits
	}
	return total
}
