package provider

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/autumnsgrove/clearing-cli/internal/cost"
	"github.com/autumnsgrove/clearing-cli/internal/resilience"
)

// Invoker routes a chat request through the registry's candidates in
// order. Retryable failures are retried on the same candidate with
// backoff; everything else advances to the next candidate immediately.
type Invoker struct {
	registry *Registry
	clients  map[string]Chat
	ledger   *Ledger
	calc     *cost.Calculator
	retryCfg resilience.RetryConfig
}

// NewInvoker wires an invoker. clients maps provider ID to its Chat
// adapter; candidates whose provider has no client are skipped.
func NewInvoker(registry *Registry, clients map[string]Chat, ledger *Ledger, calc *cost.Calculator, retryCfg resilience.RetryConfig) *Invoker {
	return &Invoker{
		registry: registry,
		clients:  clients,
		ledger:   ledger,
		calc:     calc,
		retryCfg: retryCfg,
	}
}

// Ledger exposes the usage ledger for reporting.
func (inv *Invoker) Ledger() *Ledger { return inv.ledger }

// HasCandidates reports whether any usable candidate exists for the tier.
func (inv *Invoker) HasCandidates(tier Tier) bool {
	for _, d := range inv.registry.Candidates(tier) {
		if _, ok := inv.clients[d.ID]; ok {
			return true
		}
	}
	return false
}

// Invoke performs one completion at the given tier. On success the ledger
// is charged for exactly the successful attempt; failed attempts count
// toward the provider's error counters but are never billed.
func (inv *Invoker) Invoke(ctx context.Context, req Request, tier Tier) (*Response, error) {
	candidates := inv.registry.Candidates(tier)
	if len(candidates) == 0 {
		return nil, eris.Wrapf(ErrAllProvidersExhausted, "provider: no candidates registered for tier %s", tier)
	}

	var lastErr error
	tried := 0
	for _, cand := range candidates {
		client, ok := inv.clients[cand.ID]
		if !ok {
			continue
		}
		tried++

		resp, err := inv.tryCandidate(ctx, client, cand, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, lastErr
		}

		zap.L().Warn("provider candidate failed, falling back",
			zap.String("provider", cand.ID),
			zap.String("model", cand.Model),
			zap.String("kind", string(Classify(lastErr))),
			zap.Error(lastErr),
		)
	}

	if tried == 0 {
		return nil, eris.Wrapf(ErrAllProvidersExhausted, "provider: no client configured for tier %s", tier)
	}
	return nil, eris.Wrapf(ErrAllProvidersExhausted, "provider: tier %s failed, last error: %v", tier, lastErr)
}

// tryCandidate runs the per-candidate retry loop. Only retryable kinds
// (rate limit, timeout, transport) are retried; the retry sleep honors a
// provider-supplied retry-after hint.
func (inv *Invoker) tryCandidate(ctx context.Context, client Chat, cand Descriptor, req Request) (*Response, error) {
	req.Model = cand.Model

	cfg := inv.retryCfg
	cfg.ShouldRetry = func(err error) bool {
		return Classify(err).Retryable()
	}
	cfg.OnRetry = func(attempt int, err error) {
		inv.ledger.RecordError(cand.ID, Classify(err))
		zap.L().Debug("retrying provider call",
			zap.String("provider", cand.ID),
			zap.String("model", cand.Model),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Response, error) {
		return client.Complete(ctx, req)
	})
	if err != nil {
		// The final attempt is not seen by OnRetry.
		inv.ledger.RecordError(cand.ID, Classify(err))
		return nil, err
	}

	inv.ledger.RecordSuccess(cand.ID, resp.Usage, inv.calc.Completion(cand.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens))
	return resp, nil
}
