package analyzer

import (
	"sort"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

// ActiveSet describes what is already in flight when prioritizing: the
// (type, component) pairs backing active improvements and the number of
// active pipelines.
type ActiveSet struct {
	Keys  map[ActiveKey]bool
	Count int
}

// ActiveKey identifies an improvement by what it changes.
type ActiveKey struct {
	Type      schemas.OpportunityType
	Component string
}

// Selection is the outcome of one prioritization pass. Queued opportunities
// are informational; the next cycle re-derives and re-scores them from
// fresh telemetry.
type Selection struct {
	Selected []schemas.ImprovementOpportunity
	Queued   []schemas.ImprovementOpportunity
}

// Prioritize orders opportunities by impact with critical severities first,
// drops ones that duplicate an active improvement, never picks the same
// component twice in one pass, and caps the selection at
// limit minus already-active improvements.
func Prioritize(opps []schemas.ImprovementOpportunity, active ActiveSet, limit int) Selection {
	ordered := make([]schemas.ImprovementOpportunity, len(opps))
	copy(ordered, opps)
	sort.SliceStable(ordered, func(i, j int) bool {
		ci := ordered[i].Severity == schemas.SeverityCritical
		cj := ordered[j].Severity == schemas.SeverityCritical
		if ci != cj {
			return ci
		}
		return ordered[i].ImpactScore > ordered[j].ImpactScore
	})

	budget := limit - active.Count
	if budget < 0 {
		budget = 0
	}

	var sel Selection
	takenComponents := make(map[string]bool)

	for _, op := range ordered {
		if active.Keys[ActiveKey{op.Type, op.Component}] {
			// Already being improved; not even queued.
			continue
		}
		if len(sel.Selected) < budget && !takenComponents[op.Component] {
			takenComponents[op.Component] = true
			sel.Selected = append(sel.Selected, op)
			continue
		}
		sel.Queued = append(sel.Queued, op)
	}
	return sel
}
