// Package progress reports pipeline stage transitions to pluggable
// emitters. Emission is strictly fire-and-forget: a broken or slow
// emitter can never fail or stall a run.
package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/autumnsgrove/clearing-cli/internal/model"
)

// Marker denotes which side of a stage an event records.
type Marker string

// Supported markers.
const (
	MarkerStarted   Marker = "started"
	MarkerCompleted Marker = "completed"
	// MarkerFinished signals the run reached a terminal status. It carries
	// no stage counts.
	MarkerFinished Marker = "finished"
)

// Event captures one stage transition of a run.
type Event struct {
	RunID   string            `json:"run_id"`
	Stage   model.Stage       `json:"stage"`
	Marker  Marker            `json:"marker"`
	Counts  model.StageCounts `json:"counts"`
	CostUSD float64           `json:"cost_usd"`
	TS      time.Time         `json:"ts"`
}

// Emitter receives stage transition events.
type Emitter interface {
	Emit(event Event)
}

// LogEmitter writes events to the global logger.
type LogEmitter struct{}

func (LogEmitter) Emit(event Event) {
	zap.L().Info("pipeline stage",
		zap.String("run_id", event.RunID),
		zap.String("stage", string(event.Stage)),
		zap.String("marker", string(event.Marker)),
		zap.Int("found", event.Counts.Found),
		zap.Int("succeeded", event.Counts.Succeeded),
		zap.Int("failed", event.Counts.Failed),
		zap.Float64("cost_usd", event.CostUSD),
	)
}

// MultiEmitter fans one event out to several emitters.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// RunUpdater is the slice of the store used to persist stage progress.
type RunUpdater interface {
	UpdateRunStages(ctx context.Context, runID string, stages map[model.Stage]model.StageCounts) error
}

// StoreEmitter persists the cumulative stage counts of a run after each
// completed stage. Events are handed to a background worker so a slow
// store never blocks the run. Persistence failures are logged and
// swallowed, and finished runs are evicted from the accumulator.
type StoreEmitter struct {
	updater RunUpdater

	mu     sync.Mutex
	closed bool
	events chan Event
	done   chan struct{}

	// stages is touched only by the worker goroutine.
	stages map[string]map[model.Stage]model.StageCounts
}

// NewStoreEmitter returns an emitter that records stage counts through
// the given updater. Callers must Close it to stop the worker.
func NewStoreEmitter(updater RunUpdater) *StoreEmitter {
	s := &StoreEmitter{
		updater: updater,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		stages:  make(map[string]map[model.Stage]model.StageCounts),
	}
	go s.worker()
	return s
}

// Emit queues the event for persistence and returns immediately. Events
// are dropped, with a warning, if the queue is full.
func (s *StoreEmitter) Emit(event Event) {
	if event.Marker == MarkerStarted {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.events <- event:
	default:
		zap.L().Warn("stage progress queue full, dropping event",
			zap.String("run_id", event.RunID),
			zap.String("stage", string(event.Stage)),
		)
	}
}

// Forget drops the accumulated counts for a finished run.
func (s *StoreEmitter) Forget(runID string) {
	s.Emit(Event{RunID: runID, Marker: MarkerFinished})
}

// Close drains queued events and stops the background worker.
func (s *StoreEmitter) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *StoreEmitter) worker() {
	defer close(s.done)
	for event := range s.events {
		switch event.Marker {
		case MarkerCompleted:
			s.persist(event)
		case MarkerFinished:
			delete(s.stages, event.RunID)
		}
	}
}

func (s *StoreEmitter) persist(event Event) {
	byStage, ok := s.stages[event.RunID]
	if !ok {
		byStage = make(map[model.Stage]model.StageCounts)
		s.stages[event.RunID] = byStage
	}
	byStage[event.Stage] = event.Counts

	snapshot := make(map[model.Stage]model.StageCounts, len(byStage))
	for stage, counts := range byStage {
		snapshot[stage] = counts
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.updater.UpdateRunStages(ctx, event.RunID, snapshot); err != nil {
		zap.L().Warn("persist stage progress failed",
			zap.String("run_id", event.RunID),
			zap.String("stage", string(event.Stage)),
			zap.Error(err),
		)
	}
}
