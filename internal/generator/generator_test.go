package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

type scriptedLLM struct {
	outputs []string
	errs    []error
	calls   int
}

func (s *scriptedLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if idx < len(s.outputs) {
		return s.outputs[idx], nil
	}
	return "", errors.New("script exhausted")
}

func (s *scriptedLLM) Close() error { return nil }

func generatorConfig() config.GeneratorConfig {
	return config.GeneratorConfig{
		MaxRetries:     3,
		BackoffBase:    time.Millisecond,
		AttemptTimeout: time.Second,
		Temperature:    0.1,
		MaxTokens:      1024,
	}
}

func sampleOpportunity() schemas.ImprovementOpportunity {
	return schemas.ImprovementOpportunity{
		ID:                        "opp-1",
		Type:                      schemas.OpportunityCaching,
		Component:                 "catalog",
		Severity:                  schemas.SeverityMedium,
		RiskLevel:                 schemas.RiskLow,
		Description:               "cache hit ratio below target",
		PerformanceGainPercentage: 20,
		Evidence:                  []string{"catalog cache_hit_ratio 0.30"},
	}
}

const goodResponse = "Here is the change.\n\n" +
	"```go:internal/catalog/cache.go\npackage catalog\n\nfunc warm() {}\n```\n\n" +
	"```go:internal/catalog/cache_test.go\npackage catalog\n\nimport \"testing\"\n\nfunc TestWarm(t *testing.T) {}\n```\n"

func TestParseFiles_ExtractsPathAnnotatedBlocks(t *testing.T) {
	files := ParseFiles(goodResponse)
	require.Len(t, files, 2)
	assert.Contains(t, files["internal/catalog/cache.go"], "func warm()")
	assert.Contains(t, files["internal/catalog/cache_test.go"], "func TestWarm")
}

func TestParseFiles_IgnoresBlocksWithoutPaths(t *testing.T) {
	response := "```go\npackage nope\n```\n\nprose only\n"
	assert.Nil(t, ParseFiles(response))
}

func TestParseFiles_EmptyResponse(t *testing.T) {
	assert.Nil(t, ParseFiles(""))
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	op := sampleOpportunity()
	arch := schemas.ArchitectureContext{
		Summary:       "catalog is a read-mostly HTTP service",
		CodeSample:    "func Get(id string) (Item, error) { ... }",
		TargetGainPct: 20,
		MinCoverage:   80,
	}

	a := BuildPrompt(op, arch)
	b := BuildPrompt(op, arch)
	assert.Equal(t, a, b)

	assert.Contains(t, a, "catalog")
	assert.Contains(t, a, "cache hit ratio below target")
	assert.Contains(t, a, "catalog cache_hit_ratio 0.30")
	assert.Contains(t, a, "at least 80%")
}

func TestGenerate_SucceedsFirstAttempt(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{goodResponse}}
	g := NewGenerator(llm, generatorConfig(), zaptest.NewLogger(t))

	change, err := g.Generate(context.Background(), sampleOpportunity(), schemas.ArchitectureContext{})
	require.NoError(t, err)
	assert.Equal(t, "opp-1", change.OpportunityID)
	assert.Equal(t, 1, change.GenerationAttempts)
	assert.Len(t, change.Files, 2)
}

func TestGenerate_RetriesTransientFailures(t *testing.T) {
	llm := &scriptedLLM{
		errs:    []error{errors.New("503"), nil},
		outputs: []string{"", goodResponse},
	}
	g := NewGenerator(llm, generatorConfig(), zaptest.NewLogger(t))

	change, err := g.Generate(context.Background(), sampleOpportunity(), schemas.ArchitectureContext{})
	require.NoError(t, err)
	assert.Equal(t, 2, change.GenerationAttempts)
	assert.Equal(t, 2, llm.calls)
}

func TestGenerate_EmptyResponseCountsAsFailedAttempt(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"no code here", goodResponse}}
	g := NewGenerator(llm, generatorConfig(), zaptest.NewLogger(t))

	change, err := g.Generate(context.Background(), sampleOpportunity(), schemas.ArchitectureContext{})
	require.NoError(t, err)
	assert.Equal(t, 2, change.GenerationAttempts)
}

func TestGenerate_ExhaustedRetriesFail(t *testing.T) {
	boom := errors.New("503")
	llm := &scriptedLLM{errs: []error{boom, boom, boom}}
	g := NewGenerator(llm, generatorConfig(), zaptest.NewLogger(t))

	_, err := g.Generate(context.Background(), sampleOpportunity(), schemas.ArchitectureContext{})
	require.ErrorIs(t, err, schemas.ErrGenerationFailure)
	assert.Equal(t, 3, llm.calls)
}

func TestGenerate_OpenCircuitFailsWithoutRetry(t *testing.T) {
	llm := &scriptedLLM{errs: []error{schemas.ErrCircuitOpen}}
	g := NewGenerator(llm, generatorConfig(), zaptest.NewLogger(t))

	_, err := g.Generate(context.Background(), sampleOpportunity(), schemas.ArchitectureContext{})
	require.ErrorIs(t, err, schemas.ErrGenerationFailure)
	assert.Equal(t, 1, llm.calls, "an open circuit must not be hammered with retries")
}
