package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

func baseOpportunity() schemas.ImprovementOpportunity {
	return schemas.ImprovementOpportunity{
		Type:                      schemas.OpportunityPerformance,
		Component:                 "checkout",
		Severity:                  schemas.SeverityHigh,
		ConfidenceScore:           0.8,
		RiskLevel:                 schemas.RiskLow,
		PerformanceGainPercentage: 30,
		AffectedUsersPerHour:      1000,
		FrequencyPerDay:           24,
	}
}

func TestImpactScore_WorkedExample(t *testing.T) {
	// 30% gain, 1000 users/h, 24/day, high severity, confident, low risk:
	// 30*1000*24/100 = 7200, *1.5 = 10800.
	assert.InDelta(t, 10800, ImpactScore(baseOpportunity()), 1e-9)
}

func TestImpactScore_LowConfidenceHalves(t *testing.T) {
	op := baseOpportunity()
	op.ConfidenceScore = 0.69
	assert.InDelta(t, 5400, ImpactScore(op), 1e-9)
}

func TestImpactScore_RiskPenalties(t *testing.T) {
	op := baseOpportunity()

	op.RiskLevel = schemas.RiskMedium
	assert.InDelta(t, 10800*0.8, ImpactScore(op), 1e-9)

	op.RiskLevel = schemas.RiskHigh
	assert.InDelta(t, 10800*0.5, ImpactScore(op), 1e-9)
}

func TestImpactScore_SeverityMultipliers(t *testing.T) {
	op := baseOpportunity()

	op.Severity = schemas.SeverityCritical
	assert.InDelta(t, 14400, ImpactScore(op), 1e-9)

	op.Severity = schemas.SeverityMedium
	assert.InDelta(t, 7200, ImpactScore(op), 1e-9)

	op.Severity = schemas.SeverityLow
	assert.InDelta(t, 3600, ImpactScore(op), 1e-9)
}

func TestImpactScore_MonotonicInInputs(t *testing.T) {
	op := baseOpportunity()
	base := ImpactScore(op)

	bigger := op
	bigger.PerformanceGainPercentage = 40
	assert.Greater(t, ImpactScore(bigger), base)

	bigger = op
	bigger.AffectedUsersPerHour = 2000
	assert.Greater(t, ImpactScore(bigger), base)

	bigger = op
	bigger.FrequencyPerDay = 48
	assert.Greater(t, ImpactScore(bigger), base)
}

func TestImpactScore_ZeroInputsScoreZero(t *testing.T) {
	op := baseOpportunity()
	op.AffectedUsersPerHour = 0
	assert.Zero(t, ImpactScore(op))
}
