// Package history feeds improvement outcomes back into opportunity
// scoring. Components whose changes keep getting rolled back are scored
// down until a clean deployment restores trust.
package history

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

const (
	minAdjustment      = 0.25
	rollbackDampening  = 0.5
	failureDampening   = 0.8
	successRelaxation  = 0.5 // fraction of the gap back to 1.0 recovered
	neutralAdjustment  = 1.0
)

type key struct {
	opType    schemas.OpportunityType
	component string
}

// Recorder implements schemas.OutcomeSink in memory.
type Recorder struct {
	mu          sync.RWMutex
	adjustments map[key]float64
	logger      *zap.Logger
}

// NewRecorder builds an empty recorder; every pair starts neutral.
func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{
		adjustments: make(map[key]float64),
		logger:      logger.Named("history"),
	}
}

// RecordOutcome updates the adjustment for the outcome's (type, component)
// pair. Rollbacks dampen hardest, failures mildly, finalized outcomes
// recover half the remaining gap to neutral.
func (r *Recorder) RecordOutcome(ctx context.Context, outcome schemas.ImprovementOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{opType: outcome.Type, component: outcome.Component}
	adj, ok := r.adjustments[k]
	if !ok {
		adj = neutralAdjustment
	}

	switch outcome.State {
	case schemas.StateRolledBack:
		adj *= rollbackDampening
	case schemas.StateFailed:
		adj *= failureDampening
	case schemas.StateFinalized:
		adj += (neutralAdjustment - adj) * successRelaxation
	default:
		// Declined outcomes say nothing about the component itself.
		return nil
	}

	if adj < minAdjustment {
		adj = minAdjustment
	}
	r.adjustments[k] = adj

	r.logger.Debug("Outcome recorded",
		zap.String("component", outcome.Component),
		zap.String("type", string(outcome.Type)),
		zap.String("state", string(outcome.State)),
		zap.Float64("adjustment", adj))
	return nil
}

// Adjustment returns the scoring multiplier for a pair, 1.0 when unknown.
func (r *Recorder) Adjustment(opType schemas.OpportunityType, component string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if adj, ok := r.adjustments[key{opType: opType, component: component}]; ok {
		return adj
	}
	return neutralAdjustment
}
