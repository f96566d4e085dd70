package provider

// Tier selects the class of model for an operation: fast for per-article
// analysis, capable for digest synthesis.
type Tier string

const (
	TierFast    Tier = "fast"
	TierCapable Tier = "capable"
)

// Descriptor identifies one (provider, tier, model) candidate.
type Descriptor struct {
	// ID names the provider, e.g. "openrouter" or "anthropic".
	ID string
	// Tier is the model class this candidate serves.
	Tier Tier
	// Model is the provider-specific model identifier.
	Model string
	// ContextLength is the model's context window in tokens.
	ContextLength int
}

// Registry holds the fallback candidates per tier, in declared priority
// order. It is built once at startup and never mutated.
type Registry struct {
	candidates map[Tier][]Descriptor
}

// NewRegistry builds a registry from candidates. Order within a tier is
// the fallback order.
func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{candidates: make(map[Tier][]Descriptor)}
	for _, d := range descs {
		r.candidates[d.Tier] = append(r.candidates[d.Tier], d)
	}
	return r
}

// DefaultRegistry returns the standard candidate set: OpenRouter first,
// direct Anthropic second, for both tiers.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Descriptor{ID: "openrouter", Tier: TierFast, Model: "anthropic/claude-haiku-4.5", ContextLength: 200_000},
		Descriptor{ID: "anthropic", Tier: TierFast, Model: "claude-haiku-4-5-20251001", ContextLength: 200_000},
		Descriptor{ID: "openrouter", Tier: TierCapable, Model: "anthropic/claude-sonnet-4.5", ContextLength: 200_000},
		Descriptor{ID: "anthropic", Tier: TierCapable, Model: "claude-sonnet-4-5-20250929", ContextLength: 200_000},
	)
}

// Candidates returns the ordered fallback list for a tier. The returned
// slice must not be modified.
func (r *Registry) Candidates(tier Tier) []Descriptor {
	return r.candidates[tier]
}

// Providers returns the distinct provider IDs across all tiers, in first
// appearance order.
func (r *Registry) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, tier := range []Tier{TierFast, TierCapable} {
		for _, d := range r.candidates[tier] {
			if !seen[d.ID] {
				seen[d.ID] = true
				out = append(out, d.ID)
			}
		}
	}
	return out
}
