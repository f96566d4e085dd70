package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/progress"
	"github.com/autumnsgrove/clearing-cli/internal/provider"
	"github.com/rotisserie/eris"
)

func testTopics() []model.Topic {
	return []model.Topic{
		{Name: "AI", Keywords: []string{"llm"}, MaxArticles: 3},
		{Name: "Databases", Keywords: []string{"postgres"}, MaxArticles: 2},
	}
}

func testRefs() map[string][]model.ArticleRef {
	return map[string][]model.ArticleRef{
		"AI": {
			{URL: "https://ai.example/a1", Title: "AI Article One", Topic: "AI", RelevanceScore: 0.9},
			{URL: "https://ai.example/a2", Title: "AI Article Two", Topic: "AI", RelevanceScore: 0.8},
			{URL: "https://ai.example/a3", Title: "AI Article Three", Topic: "AI", RelevanceScore: 0.7},
		},
		"Databases": {
			{URL: "https://db.example/d1", Title: "DB Article One", Topic: "Databases", RelevanceScore: 0.9},
			{URL: "https://db.example/d2", Title: "DB Article Two", Topic: "Databases", RelevanceScore: 0.8},
		},
	}
}

func TestRunCompleteWithDegradedItems(t *testing.T) {
	st := newMemStore()
	searcher := &stubSearcher{name: "tavily", refsByName: testRefs()}
	// a3 is not fetchable.
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://ai.example/a1": articleHTML("AI Article One"),
		"https://ai.example/a2": articleHTML("AI Article Two"),
		"https://db.example/d1": articleHTML("DB Article One"),
		"https://db.example/d2": articleHTML("DB Article Two"),
	}}
	chat := &fakeChat{
		analysisByMarker: map[string]string{
			"AI Article Two": "this is not json",
			"DB Article Two": strings.Replace(validAnalysisJSON,
				`"should_include": true`, `"should_include": false, "skip_reason": "thin content"`, 1),
		},
		sectionText: "## Section\n\nHN-style commentary here.",
	}

	p := newTestPipeline(st, searcher, fetcher, chat)

	run, err := p.Run(context.Background(), testTopics())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusComplete, run.Status)

	result := run.Result
	require.NotNil(t, result)
	assert.Equal(t, model.StageCounts{Found: 2, Succeeded: 2}, result.Stages[model.StageSearch])
	assert.Equal(t, model.StageCounts{Found: 5, Succeeded: 4, Failed: 1}, result.Stages[model.StageParse])
	assert.Equal(t, model.StageCounts{Found: 4, Succeeded: 3, Failed: 1}, result.Stages[model.StageAnalyze])
	assert.Equal(t, model.StageCounts{Found: 2, Succeeded: 2}, result.Stages[model.StageSynthesize])
	assert.Equal(t, model.StageCounts{Found: 1, Succeeded: 1}, result.Stages[model.StagePersist])

	assert.Equal(t, 1, result.FailureKinds["permanent"])
	assert.Equal(t, 1, result.FailureKinds[string(provider.KindInvalidResponse)])

	// 4 analysis + 2 synthesis completions, 1200 tokens each.
	assert.Equal(t, int64(7200), result.TotalTokens)
	// Fast tier: 4 * (1000*1.00 + 200*5.00)/1e6. Capable: 2 * (1000*3.00 +
	// 200*15.00)/1e6. Search: 2 Tavily queries at $0.008.
	assert.InDelta(t, 0.008+0.012+0.016, result.TotalCostUSD, 1e-9)
	assert.NotEmpty(t, result.DigestID)

	digest, err := st.GetDigestByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, digest.Metadata.ArticlesFound)
	assert.Equal(t, 4, digest.Metadata.ArticlesParsed)
	assert.Equal(t, 3, digest.Metadata.ArticlesAnalyzed)
	assert.Equal(t, 2, digest.Metadata.ArticlesIncluded)
	assert.Contains(t, digest.Markdown, "# Daily Tech Digest")
	assert.Contains(t, digest.Markdown, "HN-style commentary here.")
	assert.Contains(t, digest.Markdown, "## Digest Stats")

	assert.Equal(t, []model.RunStatus{
		model.RunStatusSearching,
		model.RunStatusParsing,
		model.RunStatusAnalyzing,
		model.RunStatusSynthesizing,
		model.RunStatusPersisting,
	}, st.statusHistory)
}

func TestRunFailsWhenProvidersExhausted(t *testing.T) {
	st := newMemStore()
	searcher := &stubSearcher{name: "tavily", refsByName: testRefs()}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://ai.example/a1": articleHTML("AI Article One"),
		"https://ai.example/a2": articleHTML("AI Article Two"),
		"https://ai.example/a3": articleHTML("AI Article Three"),
		"https://db.example/d1": articleHTML("DB Article One"),
		"https://db.example/d2": articleHTML("DB Article Two"),
	}}
	chat := &fakeChat{err: provider.NewError(provider.KindAuth, "openrouter", eris.New("invalid api key"))}

	p := newTestPipeline(st, searcher, fetcher, chat)

	run, err := p.Run(context.Background(), testTopics())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
	assert.Equal(t, model.RunStatusFailed, run.Status)

	require.NotNil(t, run.Result)
	analyze := run.Result.Stages[model.StageAnalyze]
	assert.Equal(t, 5, analyze.Found)
	assert.Equal(t, 5, analyze.Failed)
	// Synthesize never ran.
	_, ok := run.Result.Stages[model.StageSynthesize]
	assert.False(t, ok)
}

func TestRunFailsWithoutProviders(t *testing.T) {
	st := newMemStore()
	searcher := &stubSearcher{name: "tavily", refsByName: testRefs()}
	p := newTestPipeline(st, searcher, &fakeFetcher{}, nil)

	run, err := p.Run(context.Background(), testTopics())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model providers")
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestRunFailsOnPersistError(t *testing.T) {
	st := newMemStore()
	st.saveDigestErr = eris.New("disk full")
	searcher := &stubSearcher{name: "tavily", refsByName: testRefs()}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://ai.example/a1": articleHTML("AI Article One"),
		"https://ai.example/a2": articleHTML("AI Article Two"),
		"https://ai.example/a3": articleHTML("AI Article Three"),
		"https://db.example/d1": articleHTML("DB Article One"),
		"https://db.example/d2": articleHTML("DB Article Two"),
	}}
	chat := &fakeChat{sectionText: "## Section"}

	p := newTestPipeline(st, searcher, fetcher, chat)

	run, err := p.Run(context.Background(), testTopics())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save digest")
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, model.StageCounts{Found: 1, Failed: 1}, run.Result.Stages[model.StagePersist])
}

func TestRunCancelledContext(t *testing.T) {
	st := newMemStore()
	searcher := &stubSearcher{name: "tavily", refsByName: testRefs()}
	chat := &fakeChat{sectionText: "## Section"}
	p := newTestPipeline(st, searcher, &fakeFetcher{}, chat)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := p.Run(ctx, testTopics())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.RunStatusCancelled, run.Status)
	require.NotNil(t, run.Result)
	assert.Contains(t, run.Result.Stages, model.StageSearch)
}

func TestRunCompletesWithZeroArticles(t *testing.T) {
	st := newMemStore()
	searcher := &stubSearcher{name: "tavily", refsByName: map[string][]model.ArticleRef{}}
	chat := &fakeChat{sectionText: "## Section"}

	p := newTestPipeline(st, searcher, &fakeFetcher{}, chat)

	run, err := p.Run(context.Background(), testTopics())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)

	digest, err := st.GetDigestByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, digest.Metadata.ArticlesFound)
	assert.Contains(t, digest.Markdown, "# Daily Tech Digest")
}

func TestStartRunsInBackground(t *testing.T) {
	st := newMemStore()
	searcher := &stubSearcher{name: "tavily", refsByName: map[string][]model.ArticleRef{}}
	chat := &fakeChat{sectionText: "## Section"}

	p := newTestPipeline(st, searcher, &fakeFetcher{}, chat)

	run, err := p.Start(context.Background(), testTopics())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.Eventually(t, func() bool {
		got, getErr := st.GetRun(context.Background(), run.ID)
		return getErr == nil && got.Status == model.RunStatusComplete
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSequentialRunsReportOwnCost(t *testing.T) {
	st := newMemStore()
	searcher := &stubSearcher{name: "tavily", refsByName: map[string][]model.ArticleRef{}}
	chat := &fakeChat{sectionText: "## Section"}

	p := newTestPipeline(st, searcher, &fakeFetcher{}, chat)

	first, err := p.Run(context.Background(), testTopics())
	require.NoError(t, err)
	second, err := p.Run(context.Background(), testTopics())
	require.NoError(t, err)

	// Two search queries per run at the Tavily rate; the second run must
	// not absorb the first run's spend.
	assert.InDelta(t, 0.016, first.Result.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.016, second.Result.TotalCostUSD, 1e-9)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(event progress.Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func TestRunEmitsTerminalEvent(t *testing.T) {
	st := newMemStore()
	searcher := &stubSearcher{name: "tavily", refsByName: map[string][]model.ArticleRef{}}
	chat := &fakeChat{sectionText: "## Section"}

	p := newTestPipeline(st, searcher, &fakeFetcher{}, chat)
	em := &captureEmitter{}
	p.emitter = em

	run, err := p.Run(context.Background(), testTopics())
	require.NoError(t, err)

	require.NotEmpty(t, em.events)
	last := em.events[len(em.events)-1]
	assert.Equal(t, progress.MarkerFinished, last.Marker)
	assert.Equal(t, run.ID, last.RunID)
}

func TestSearchQueriesCarryPreferredDomains(t *testing.T) {
	st := newMemStore()
	searcher := &stubSearcher{name: "tavily", refsByName: map[string][]model.ArticleRef{}}
	chat := &fakeChat{sectionText: "## Section"}

	p := newTestPipeline(st, searcher, &fakeFetcher{}, chat)
	p.cfg.Pipeline.PreferredDomains = []string{"arstechnica.com", "lwn.net"}

	_, err := p.Run(context.Background(), testTopics())
	require.NoError(t, err)

	require.Len(t, searcher.gotQueries, 2)
	for _, q := range searcher.gotQueries {
		assert.Equal(t, []string{"arstechnica.com", "lwn.net"}, q.IncludeDomains)
	}
}
