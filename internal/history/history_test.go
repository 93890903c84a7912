package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

func outcome(state schemas.ImprovementState) schemas.ImprovementOutcome {
	return schemas.ImprovementOutcome{
		OpportunityID: "opp-1",
		Type:          schemas.OpportunityPerformance,
		Component:     "checkout",
		State:         state,
	}
}

func TestRecorder_UnknownPairIsNeutral(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))
	assert.InDelta(t, 1.0, r.Adjustment(schemas.OpportunityPerformance, "checkout"), 1e-9)
}

func TestRecorder_RollbackDampens(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))
	require.NoError(t, r.RecordOutcome(context.Background(), outcome(schemas.StateRolledBack)))
	assert.InDelta(t, 0.5, r.Adjustment(schemas.OpportunityPerformance, "checkout"), 1e-9)
}

func TestRecorder_AdjustmentIsFloored(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		require.NoError(t, r.RecordOutcome(context.Background(), outcome(schemas.StateRolledBack)))
	}
	assert.InDelta(t, 0.25, r.Adjustment(schemas.OpportunityPerformance, "checkout"), 1e-9)
}

func TestRecorder_SuccessRelaxesTowardNeutral(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))
	require.NoError(t, r.RecordOutcome(context.Background(), outcome(schemas.StateRolledBack)))
	require.NoError(t, r.RecordOutcome(context.Background(), outcome(schemas.StateFinalized)))
	assert.InDelta(t, 0.75, r.Adjustment(schemas.OpportunityPerformance, "checkout"), 1e-9)
}

func TestRecorder_DeclinedLeavesAdjustmentUntouched(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))
	require.NoError(t, r.RecordOutcome(context.Background(), outcome(schemas.StateRolledBack)))
	require.NoError(t, r.RecordOutcome(context.Background(), outcome(schemas.StateDeclined)))
	assert.InDelta(t, 0.5, r.Adjustment(schemas.OpportunityPerformance, "checkout"), 1e-9)
}

func TestRecorder_PairsAreIndependent(t *testing.T) {
	r := NewRecorder(zaptest.NewLogger(t))
	require.NoError(t, r.RecordOutcome(context.Background(), outcome(schemas.StateRolledBack)))

	assert.InDelta(t, 1.0, r.Adjustment(schemas.OpportunityCaching, "checkout"), 1e-9)
	assert.InDelta(t, 1.0, r.Adjustment(schemas.OpportunityPerformance, "catalog"), 1e-9)
}
