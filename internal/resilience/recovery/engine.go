package recovery

import (
	"log/slog"
	"sync"

	"marketfeed/internal/core/domain"
)

// Outcome records whether the selected strategy produced usable data.
type Outcome struct {
	Error     *domain.StructuredError
	Strategy  Strategy
	Recovered bool
}

// Engine executes recovery bookkeeping for classified failures. The fetch
// path performs the actual fallback mechanics; the engine decides the
// strategy, keeps the audit trail and feeds recovery results to alerting.
type Engine struct {
	mu      sync.Mutex
	history []Outcome
	maxKeep int
	log     *slog.Logger

	// OnOutcome is invoked for every recorded outcome, for metrics
	// accounting. May be nil.
	OnOutcome func(o Outcome)
}

// NewEngine creates an engine with a bounded audit history.
func NewEngine(log *slog.Logger, maxKeep int) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if maxKeep <= 0 {
		maxKeep = 200
	}
	return &Engine{log: log, maxKeep: maxKeep}
}

// Handle classifies the failure, selects its strategy and returns both.
func (e *Engine) Handle(src domain.SourceID, err error) (*domain.StructuredError, Strategy) {
	se := Classify(src, err)
	strategy := StrategyFor(se.Code)
	e.log.Debug("failure classified",
		"source", string(src),
		"code", se.Code,
		"category", string(se.Category),
		"severity", string(se.Severity),
		"strategy", string(strategy),
	)
	return se, strategy
}

// Record stores the outcome of an executed strategy.
func (e *Engine) Record(se *domain.StructuredError, strategy Strategy, recovered bool) {
	o := Outcome{Error: se, Strategy: strategy, Recovered: recovered}

	e.mu.Lock()
	e.history = append(e.history, o)
	if len(e.history) > e.maxKeep {
		e.history = e.history[len(e.history)-e.maxKeep:]
	}
	e.mu.Unlock()

	if !recovered {
		e.log.Warn("recovery failed",
			"code", se.Code, "strategy", string(strategy), "severity", string(se.Severity))
	}
	if e.OnOutcome != nil {
		e.OnOutcome(o)
	}
}

// History returns a copy of the recent outcomes, newest last.
func (e *Engine) History() []Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Outcome, len(e.history))
	copy(out, e.history)
	return out
}
