package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/autumnsgrove/clearing-cli/internal/config"
	"github.com/autumnsgrove/clearing-cli/internal/cost"
	"github.com/autumnsgrove/clearing-cli/internal/extract"
	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/provider"
	"github.com/autumnsgrove/clearing-cli/internal/resilience"
	"github.com/autumnsgrove/clearing-cli/internal/search"
	"github.com/autumnsgrove/clearing-cli/internal/store"
)

// memStore is an in-memory Store for pipeline tests.
type memStore struct {
	mu            sync.Mutex
	nextID        int
	runs          map[string]*model.Run
	digests       map[string]*model.Digest
	statusHistory []model.RunStatus
	saveDigestErr error
}

func newMemStore() *memStore {
	return &memStore{
		runs:    make(map[string]*model.Run),
		digests: make(map[string]*model.Digest),
	}
}

func (m *memStore) CreateRun(_ context.Context, topics []string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	run := &model.Run{
		ID:     fmt.Sprintf("run-%d", m.nextID),
		Topics: topics,
		Status: model.RunStatusQueued,
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return eris.Errorf("run not found: %s", runID)
	}
	run.Status = status
	m.statusHistory = append(m.statusHistory, status)
	return nil
}

func (m *memStore) UpdateRunStages(_ context.Context, _ string, _ map[model.Stage]model.StageCounts) error {
	return nil
}

func (m *memStore) UpdateRunResult(_ context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return eris.Errorf("run not found: %s", runID)
	}
	run.Status = status
	run.Result = result
	return nil
}

func (m *memStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]model.Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, *r)
	}
	return runs, nil
}

func (m *memStore) SaveDigest(_ context.Context, digest *model.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveDigestErr != nil {
		return m.saveDigestErr
	}
	if digest.ID == "" {
		m.nextID++
		digest.ID = fmt.Sprintf("digest-%d", m.nextID)
	}
	m.digests[digest.ID] = digest
	return nil
}

func (m *memStore) GetDigest(_ context.Context, digestID string) (*model.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.digests[digestID]
	if !ok {
		return nil, eris.Errorf("digest not found: %s", digestID)
	}
	return d, nil
}

func (m *memStore) GetDigestByRun(_ context.Context, runID string) (*model.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.digests {
		if d.RunID == runID {
			return d, nil
		}
	}
	return nil, eris.Errorf("digest not found for run: %s", runID)
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

// stubSearcher serves canned refs keyed by topic name.
type stubSearcher struct {
	name       string
	refsByName map[string][]model.ArticleRef
	err        error

	mu         sync.Mutex
	gotQueries []search.Query
}

func (s *stubSearcher) Name() string { return s.name }

func (s *stubSearcher) Search(_ context.Context, q search.Query) ([]model.ArticleRef, error) {
	s.mu.Lock()
	s.gotQueries = append(s.gotQueries, q)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.refsByName[q.Topic.Name], nil
}

// fakeFetcher serves canned HTML keyed by URL; unknown URLs fail.
type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (string, error) {
	html, ok := f.pages[pageURL]
	if !ok {
		return "", eris.Errorf("fetch %s: status 403", pageURL)
	}
	return html, nil
}

// fakeChat responds based on request shape: analysis requests get a
// scripted JSON body per article URL, synthesis requests get section text.
type fakeChat struct {
	mu sync.Mutex
	// analysisByMarker maps a prompt substring (article title) to the raw
	// response body.
	analysisByMarker map[string]string
	sectionText      string
	err              error
	calls            int
}

func (f *fakeChat) Complete(_ context.Context, req provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	prompt := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(prompt, "Analyze this article") {
		for marker, body := range f.analysisByMarker {
			if strings.Contains(prompt, marker) {
				return f.respond(req, body), nil
			}
		}
		return f.respond(req, validAnalysisJSON), nil
	}
	return f.respond(req, f.sectionText), nil
}

func (f *fakeChat) respond(req provider.Request, text string) *provider.Response {
	return &provider.Response{
		Text:  text,
		Model: req.Model,
		Usage: provider.Usage{InputTokens: 1000, OutputTokens: 200},
	}
}

// articleHTML builds a page that passes the extraction chain.
func articleHTML(title string) string {
	body := strings.Repeat("This paragraph carries enough extracted text to pass validation. ", 8)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<title>%s</title>
<meta property="og:title" content="%s">
<meta name="author" content="Test Author">
<meta property="article:published_time" content="2026-02-01T09:00:00Z">
</head>
<body>
<article><p>%s</p></article>
</body>
</html>`, title, title, body)
}

// newTestPipeline wires a Pipeline from fakes. Callers adjust the fakes
// before Run.
func newTestPipeline(st store.Store, searcher search.Searcher, fetcher *fakeFetcher, chat provider.Chat) *Pipeline {
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			SearchConcurrency:  2,
			ParseConcurrency:   4,
			AnalyzeConcurrency: 2,
			SearchMaxResults:   10,
			SearchFreshness:    "pw",
			DailyBudgetUSD:     1.0,
		},
	}

	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	chain := search.NewChain(breakers, searcher)

	clients := map[string]provider.Chat{}
	if chat != nil {
		clients["openrouter"] = chat
	}
	calc := cost.NewCalculator(cost.DefaultRates())
	invoker := provider.NewInvoker(
		provider.DefaultRegistry(),
		clients,
		provider.NewLedger(),
		calc,
		resilience.RetryConfig{MaxAttempts: 1},
	)

	return New(cfg, st, chain, fetcher, extract.DefaultChain(), invoker, calc, nil)
}
