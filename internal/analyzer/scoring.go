package analyzer

import "github.com/xkilldash9x/loopsmith/api/schemas"

// Multipliers applied to the base impact, in order: severity, confidence,
// risk.
const (
	lowConfidenceCutoff  = 0.7
	lowConfidencePenalty = 0.5
)

var severityMultipliers = map[schemas.Severity]float64{
	schemas.SeverityCritical: 2.0,
	schemas.SeverityHigh:     1.5,
	schemas.SeverityMedium:   1.0,
	schemas.SeverityLow:      0.5,
}

var riskPenalties = map[schemas.RiskLevel]float64{
	schemas.RiskLow:    1.0,
	schemas.RiskMedium: 0.8,
	schemas.RiskHigh:   0.5,
}

// ImpactScore computes the deterministic priority score for an opportunity.
//
//	base  = gain_pct x users_per_hour x frequency_per_day / 100
//	score = base x severity x confidence_penalty x risk_penalty
func ImpactScore(op schemas.ImprovementOpportunity) float64 {
	score := op.PerformanceGainPercentage * op.AffectedUsersPerHour * op.FrequencyPerDay / 100

	if mult, ok := severityMultipliers[op.Severity]; ok {
		score *= mult
	}
	if op.ConfidenceScore < lowConfidenceCutoff {
		score *= lowConfidencePenalty
	}
	if penalty, ok := riskPenalties[op.RiskLevel]; ok {
		score *= penalty
	}
	return score
}

// score applies the historical outcome adjustment on top of the base score.
// Components whose past improvements were rolled back get dampened until a
// clean deployment restores them.
func (a *Analyzer) score(op schemas.ImprovementOpportunity) float64 {
	score := ImpactScore(op)
	if a.history != nil {
		score *= a.history.Adjustment(op.Type, op.Component)
	}
	return score
}
