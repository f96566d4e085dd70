// Package pipeline orchestrates a digest run: Search, Parse, Analyze,
// Synthesize, Persist. Item failures degrade the digest; only losing a
// whole stage's preconditions fails the run.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/autumnsgrove/clearing-cli/internal/config"
	"github.com/autumnsgrove/clearing-cli/internal/cost"
	"github.com/autumnsgrove/clearing-cli/internal/extract"
	"github.com/autumnsgrove/clearing-cli/internal/fetch"
	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/progress"
	"github.com/autumnsgrove/clearing-cli/internal/provider"
	"github.com/autumnsgrove/clearing-cli/internal/resilience"
	"github.com/autumnsgrove/clearing-cli/internal/search"
	"github.com/autumnsgrove/clearing-cli/internal/store"
)

// Pipeline runs digests with all dependencies injected.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	search  *search.Chain
	fetcher fetch.Fetcher
	extract *extract.Chain
	invoker *provider.Invoker
	calc    *cost.Calculator
	emitter progress.Emitter

	searchQueries  atomic.Int64
	searchMicroUSD atomic.Int64
}

// New creates a Pipeline. The search chain's query hook is claimed for
// per-query cost metering.
func New(
	cfg *config.Config,
	st store.Store,
	searchChain *search.Chain,
	fetcher fetch.Fetcher,
	extractChain *extract.Chain,
	invoker *provider.Invoker,
	calc *cost.Calculator,
	emitter progress.Emitter,
) *Pipeline {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	p := &Pipeline{
		cfg:     cfg,
		store:   st,
		search:  searchChain,
		fetcher: fetcher,
		extract: extractChain,
		invoker: invoker,
		calc:    calc,
		emitter: emitter,
	}
	searchChain.RecordQuery = p.recordSearchQuery
	return p
}

func (p *Pipeline) recordSearchQuery(providerName string) {
	p.searchQueries.Add(1)
	p.searchMicroUSD.Add(int64(p.calc.SearchQuery(providerName) * 1e6))
}

// searchCostUSD returns the metered search spend so far.
func (p *Pipeline) searchCostUSD() float64 {
	return float64(p.searchMicroUSD.Load()) / 1e6
}

// totalCostUSD is the process-lifetime spend: completions billed to the
// ledger plus metered search queries. Budget checks use this so a long
// lived server accumulates toward its daily budget across runs.
func (p *Pipeline) totalCostUSD() float64 {
	return p.invoker.Ledger().Totals().CostUSD + p.searchCostUSD()
}

// Run executes a full digest run for the given topics. The returned Run
// carries the final status and result; the error is non-nil only for
// fatal outcomes.
func (p *Pipeline) Run(ctx context.Context, topics []model.Topic) (*model.Run, error) {
	run, err := p.createRun(ctx, topics)
	if err != nil {
		return nil, err
	}
	return p.execute(ctx, run, topics)
}

// Start creates the run row and launches the digest in the background.
// The outcome is recorded on the run; callers poll the store for it.
func (p *Pipeline) Start(ctx context.Context, topics []model.Topic) (*model.Run, error) {
	run, err := p.createRun(ctx, topics)
	if err != nil {
		return nil, err
	}
	go func() {
		if _, execErr := p.execute(ctx, run, topics); execErr != nil {
			zap.L().Error("pipeline: background run failed",
				zap.String("run_id", run.ID),
				zap.Error(execErr),
			)
		}
	}()
	return run, nil
}

func (p *Pipeline) createRun(ctx context.Context, topics []model.Topic) (*model.Run, error) {
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.Name
	}
	run, err := p.store.CreateRun(ctx, names)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return run, nil
}

func (p *Pipeline) execute(ctx context.Context, run *model.Run, topics []model.Topic) (*model.Run, error) {
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: starting digest run", zap.Strings("topics", run.Topics))

	result := model.NewRunResult()
	start := time.Now()
	base := p.snapshotCost()

	// Final bookkeeping must survive ctx cancellation.
	finishCtx := context.WithoutCancel(ctx)

	setStatus := func(status model.RunStatus) {
		run.Status = status
		if statusErr := p.store.UpdateRunStatus(finishCtx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	finish := func(status model.RunStatus, runErr error) (*model.Run, error) {
		result.DurationMS = time.Since(start).Milliseconds()
		result.TotalTokens = p.tokensSince(base)
		result.TotalCostUSD = p.costSince(base)
		if runErr != nil {
			result.Error = runErr.Error()
		}
		run.Status = status
		run.Result = result
		if updateErr := p.store.UpdateRunResult(finishCtx, run.ID, status, result); updateErr != nil {
			log.Error("pipeline: failed to record run result", zap.Error(updateErr))
			if runErr == nil {
				runErr = eris.Wrap(updateErr, "pipeline: record run result")
			}
		}
		p.logBudget(log)
		p.emit(run.ID, "", progress.MarkerFinished, model.StageCounts{}, base)
		return run, runErr
	}

	cancelled := func() bool { return ctx.Err() != nil }

	if !p.invoker.HasCandidates(provider.TierFast) || !p.invoker.HasCandidates(provider.TierCapable) {
		return finish(model.RunStatusFailed, eris.New("pipeline: no model providers configured"))
	}

	// ===== Search =====
	setStatus(model.RunStatusSearching)
	p.emit(run.ID, model.StageSearch, progress.MarkerStarted, model.StageCounts{Found: len(topics)}, base)

	refs, searchCounts := p.searchStage(ctx, topics, result)
	result.RecordStage(model.StageSearch, searchCounts)
	p.emit(run.ID, model.StageSearch, progress.MarkerCompleted, searchCounts, base)

	if cancelled() {
		return finish(model.RunStatusCancelled, eris.Wrap(ctx.Err(), "pipeline: run cancelled"))
	}

	// ===== Parse =====
	setStatus(model.RunStatusParsing)
	p.emit(run.ID, model.StageParse, progress.MarkerStarted, model.StageCounts{Found: len(refs)}, base)

	parsed, parseCounts := p.parseStage(ctx, refs, result)
	result.RecordStage(model.StageParse, parseCounts)
	p.emit(run.ID, model.StageParse, progress.MarkerCompleted, parseCounts, base)

	if cancelled() {
		return finish(model.RunStatusCancelled, eris.Wrap(ctx.Err(), "pipeline: run cancelled"))
	}

	// ===== Analyze =====
	setStatus(model.RunStatusAnalyzing)
	p.emit(run.ID, model.StageAnalyze, progress.MarkerStarted, model.StageCounts{Found: len(parsed)}, base)

	analyzed, analyzeCounts, providersDown := p.analyzeStage(ctx, topics, parsed, result)
	result.RecordStage(model.StageAnalyze, analyzeCounts)
	p.emit(run.ID, model.StageAnalyze, progress.MarkerCompleted, analyzeCounts, base)

	if cancelled() {
		return finish(model.RunStatusCancelled, eris.Wrap(ctx.Err(), "pipeline: run cancelled"))
	}
	if providersDown {
		return finish(model.RunStatusFailed,
			eris.Wrap(provider.ErrAllProvidersExhausted, "pipeline: analysis unavailable"))
	}

	included := filterIncluded(analyzed)

	// ===== Synthesize =====
	setStatus(model.RunStatusSynthesizing)
	byTopic := groupByTopic(topics, included)
	p.emit(run.ID, model.StageSynthesize, progress.MarkerStarted, model.StageCounts{Found: len(byTopic)}, base)

	sections, synthCounts := p.synthesizeStage(ctx, byTopic, result)
	result.RecordStage(model.StageSynthesize, synthCounts)
	p.emit(run.ID, model.StageSynthesize, progress.MarkerCompleted, synthCounts, base)

	if cancelled() {
		return finish(model.RunStatusCancelled, eris.Wrap(ctx.Err(), "pipeline: run cancelled"))
	}

	// ===== Persist =====
	setStatus(model.RunStatusPersisting)
	p.emit(run.ID, model.StagePersist, progress.MarkerStarted, model.StageCounts{Found: 1}, base)

	digest := p.composeDigest(run.ID, run.Topics, refs, parsed, analyzed, included, sections, start, base)
	if err := p.store.SaveDigest(finishCtx, digest); err != nil {
		result.RecordStage(model.StagePersist, model.StageCounts{Found: 1, Failed: 1})
		p.emit(run.ID, model.StagePersist, progress.MarkerCompleted, model.StageCounts{Found: 1, Failed: 1}, base)
		return finish(model.RunStatusFailed, eris.Wrap(err, "pipeline: save digest"))
	}

	result.DigestID = digest.ID
	persistCounts := model.StageCounts{Found: 1, Succeeded: 1}
	result.RecordStage(model.StagePersist, persistCounts)
	p.emit(run.ID, model.StagePersist, progress.MarkerCompleted, persistCounts, base)

	log.Info("pipeline: digest run complete",
		zap.String("digest_id", digest.ID),
		zap.Int("articles_included", len(included)),
		zap.Float64("cost_usd", p.costSince(base)),
	)
	return finish(model.RunStatusComplete, nil)
}

// costBaseline marks ledger and search spend at run start so a shared
// Pipeline reports per-run deltas.
type costBaseline struct {
	inputTokens    int64
	outputTokens   int64
	costUSD        float64
	searchMicroUSD int64
}

func (p *Pipeline) snapshotCost() costBaseline {
	t := p.invoker.Ledger().Totals()
	return costBaseline{
		inputTokens:    t.InputTokens,
		outputTokens:   t.OutputTokens,
		costUSD:        t.CostUSD,
		searchMicroUSD: p.searchMicroUSD.Load(),
	}
}

// costSince is the run's own spend since the baseline, completion cost
// plus metered search queries.
func (p *Pipeline) costSince(b costBaseline) float64 {
	completions := p.invoker.Ledger().Totals().CostUSD - b.costUSD
	search := float64(p.searchMicroUSD.Load()-b.searchMicroUSD) / 1e6
	return completions + search
}

func (p *Pipeline) tokensSince(b costBaseline) int64 {
	t := p.invoker.Ledger().Totals()
	return (t.InputTokens - b.inputTokens) + (t.OutputTokens - b.outputTokens)
}

func (p *Pipeline) emit(runID string, stage model.Stage, marker progress.Marker, counts model.StageCounts, base costBaseline) {
	p.emitter.Emit(progress.Event{
		RunID:   runID,
		Stage:   stage,
		Marker:  marker,
		Counts:  counts,
		CostUSD: p.costSince(base),
		TS:      time.Now().UTC(),
	})
}

func (p *Pipeline) logBudget(log *zap.Logger) {
	budget := p.cfg.Pipeline.DailyBudgetUSD
	if budget <= 0 {
		return
	}
	spent := p.totalCostUSD()
	if spent > budget {
		log.Warn("pipeline: spend exceeded daily budget",
			zap.Float64("cost_usd", spent),
			zap.Float64("budget_usd", budget),
		)
		return
	}
	log.Info("pipeline: spend within daily budget",
		zap.Float64("cost_usd", spent),
		zap.Float64("budget_usd", budget),
	)
}

// failureKind classifies an item failure for the run result's frequency
// table.
func failureKind(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return string(perr.Kind)
	}
	if errors.Is(err, provider.ErrAllProvidersExhausted) {
		return "providers_exhausted"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return resilience.ClassifyError(err)
}

func filterIncluded(analyzed []model.AnalyzedArticle) []model.AnalyzedArticle {
	included := make([]model.AnalyzedArticle, 0, len(analyzed))
	for _, a := range analyzed {
		if a.Analysis.ShouldInclude {
			included = append(included, a)
		} else {
			zap.L().Debug("article filtered out",
				zap.String("url", a.Article.Ref.URL),
				zap.String("reason", a.Analysis.SkipReason),
			)
		}
	}
	return included
}

// groupByTopic buckets included articles by topic, preserving the
// configured topic order and dropping empty topics.
func groupByTopic(topics []model.Topic, included []model.AnalyzedArticle) []topicArticles {
	buckets := make(map[string][]model.AnalyzedArticle, len(topics))
	for _, a := range included {
		buckets[a.Article.Ref.Topic] = append(buckets[a.Article.Ref.Topic], a)
	}

	grouped := make([]topicArticles, 0, len(topics))
	for _, t := range topics {
		articles := buckets[t.Name]
		if len(articles) == 0 {
			continue
		}
		grouped = append(grouped, topicArticles{Topic: t, Articles: articles})
	}
	return grouped
}

// topicArticles is one topic's included articles, the synthesize stage item.
type topicArticles struct {
	Topic    model.Topic
	Articles []model.AnalyzedArticle
}

// ID returns the stage-item identifier for this topic bucket.
func (t topicArticles) ID() string { return t.Topic.Name }
