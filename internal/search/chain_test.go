package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/resilience"
)

type stubSearcher struct {
	name  string
	refs  []model.ArticleRef
	err   error
	calls int
}

func (s *stubSearcher) Name() string { return s.name }

func (s *stubSearcher) Search(_ context.Context, _ Query) ([]model.ArticleRef, error) {
	s.calls++
	return s.refs, s.err
}

func ref(url, title string) model.ArticleRef {
	return model.ArticleRef{URL: url, Title: title, Topic: "AI"}
}

func newBreakers() *resilience.ServiceBreakers {
	return resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
}

func TestChain_FirstProviderWins(t *testing.T) {
	primary := &stubSearcher{name: "tavily", refs: []model.ArticleRef{ref("https://a.com/1", "One")}}
	secondary := &stubSearcher{name: "brave", refs: []model.ArticleRef{ref("https://b.com/1", "Other")}}

	chain := NewChain(newBreakers(), primary, secondary)
	refs, err := chain.Search(context.Background(), Query{Topic: model.Topic{Name: "AI"}})

	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "https://a.com/1", refs[0].URL)
	assert.Zero(t, secondary.calls)
}

func TestChain_FallsBackOnError(t *testing.T) {
	primary := &stubSearcher{name: "tavily", err: errors.New("quota exceeded")}
	secondary := &stubSearcher{name: "brave", refs: []model.ArticleRef{ref("https://b.com/1", "Other")}}

	chain := NewChain(newBreakers(), primary, secondary)
	refs, err := chain.Search(context.Background(), Query{Topic: model.Topic{Name: "AI"}})

	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, 1, primary.calls)
}

func TestChain_FallsBackOnEmpty(t *testing.T) {
	primary := &stubSearcher{name: "tavily"}
	secondary := &stubSearcher{name: "brave", refs: []model.ArticleRef{ref("https://b.com/1", "Other")}}

	chain := NewChain(newBreakers(), primary, secondary)
	refs, err := chain.Search(context.Background(), Query{Topic: model.Topic{Name: "AI"}})

	require.NoError(t, err)
	require.Len(t, refs, 1)
}

func TestChain_AllFail(t *testing.T) {
	primary := &stubSearcher{name: "tavily", err: errors.New("down")}
	secondary := &stubSearcher{name: "brave", err: errors.New("also down")}

	chain := NewChain(newBreakers(), primary, secondary)
	_, err := chain.Search(context.Background(), Query{Topic: model.Topic{Name: "AI"}})
	require.Error(t, err)
}

func TestChain_AllEmpty(t *testing.T) {
	chain := NewChain(newBreakers(), &stubSearcher{name: "tavily"}, &stubSearcher{name: "brave"})
	refs, err := chain.Search(context.Background(), Query{Topic: model.Topic{Name: "AI"}})
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestChain_ExcludeKeywordFiltering(t *testing.T) {
	primary := &stubSearcher{name: "tavily", refs: []model.ArticleRef{
		ref("https://a.com/1", "Transformer Advances"),
		ref("https://a.com/2", "Crypto Token Launch Uses AI"),
		{URL: "https://a.com/3", Title: "Model Release", Snippet: "the web3 angle", Topic: "AI"},
	}}

	chain := NewChain(newBreakers(), primary)
	topic := model.Topic{Name: "AI", ExcludeKeywords: []string{"crypto", "web3"}}
	refs, err := chain.Search(context.Background(), Query{Topic: topic})

	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "https://a.com/1", refs[0].URL)
}

func TestChain_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	primary := &stubSearcher{name: "tavily", err: errors.New("down")}
	secondary := &stubSearcher{name: "brave", refs: []model.ArticleRef{ref("https://b.com/1", "Other")}}

	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 3})
	chain := NewChain(breakers, primary, secondary)

	for i := 0; i < 5; i++ {
		_, err := chain.Search(context.Background(), Query{Topic: model.Topic{Name: "AI"}})
		require.NoError(t, err)
	}

	// After three failures the breaker opens and stops calling the provider.
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, resilience.CircuitOpen, breakers.Get("tavily").State())
}
