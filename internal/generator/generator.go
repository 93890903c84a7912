// Package generator builds prompts for the generation service and parses
// its responses into candidate changes.
package generator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

const systemPrompt = `You are an automated code improvement service. You receive a description of
a detected production issue together with architectural context, and you
produce the minimal, complete code change that addresses it.

Rules:
- Emit every changed file as a fenced code block whose info string is
  "go:relative/path/to/file.go". Emit nothing outside the fenced blocks
  except brief rationale.
- Each block must contain the complete file content, not a diff.
- Include table-driven tests asserting the changed behavior.
- Do not change files outside the affected component.`

// fenceRe matches the opening fence with a language:path info string, the
// block body, and the closing fence.
var fenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]+):([^\\s`]+)\\s*\n(.*?)```")

// Generator drives candidate generation for one opportunity at a time.
type Generator struct {
	client schemas.LLMClient
	cfg    config.GeneratorConfig
	logger *zap.Logger
}

// NewGenerator builds a generator over a (breaker-wrapped) client.
func NewGenerator(client schemas.LLMClient, cfg config.GeneratorConfig, logger *zap.Logger) *Generator {
	return &Generator{client: client, cfg: cfg, logger: logger.Named("generator")}
}

// BuildPrompt renders the user prompt for an opportunity. Pure function of
// its inputs.
func BuildPrompt(op schemas.ImprovementOpportunity, arch schemas.ArchitectureContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Detected issue\n\n")
	fmt.Fprintf(&b, "Type: %s\nComponent: %s\nSeverity: %s\nRisk: %s\n", op.Type, op.Component, op.Severity, op.RiskLevel)
	if op.Tenant != "" {
		fmt.Fprintf(&b, "Tenant: %s\n", op.Tenant)
	}
	fmt.Fprintf(&b, "\n%s\n", op.Description)

	if len(op.Evidence) > 0 {
		fmt.Fprintf(&b, "\n## Telemetry evidence\n\n")
		for _, ev := range op.Evidence {
			fmt.Fprintf(&b, "- %s\n", ev)
		}
	}

	fmt.Fprintf(&b, "\n## Architecture\n\n%s\n", arch.Summary)
	if arch.CodeSample != "" {
		fmt.Fprintf(&b, "\nRepresentative code:\n\n```go\n%s\n```\n", arch.CodeSample)
	}

	fmt.Fprintf(&b, "\n## Constraints\n\n")
	fmt.Fprintf(&b, "- Target improvement: %.0f%% (estimated achievable: %.0f%%)\n",
		float64(arch.TargetGainPct), op.PerformanceGainPercentage)
	fmt.Fprintf(&b, "- Tests must cover at least %d%% of changed behavior\n", arch.MinCoverage)
	fmt.Fprintf(&b, "- Change only component %q\n", op.Component)

	return b.String()
}

// Generate produces a candidate change for the opportunity. Each attempt
// gets its own timeout; transient failures are retried with exponential
// backoff up to the configured attempt count. Exhausted retries or an
// open circuit surface as schemas.ErrGenerationFailure.
func (g *Generator) Generate(ctx context.Context, op schemas.ImprovementOpportunity, arch schemas.ArchitectureContext) (schemas.CandidateChange, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   BuildPrompt(op, arch),
		Options: schemas.GenerationOptions{
			Temperature: g.cfg.Temperature,
			MaxTokens:   g.cfg.MaxTokens,
		},
	}

	attempts := g.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			// Exponential backoff between attempts: base, 2x, 4x...
			delay := g.cfg.BackoffBase << (attempt - 2)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return schemas.CandidateChange{}, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		raw, err := g.client.Generate(attemptCtx, req)
		cancel()

		if err != nil {
			if errors.Is(err, schemas.ErrCircuitOpen) {
				g.logger.Warn("Generation skipped, circuit open", zap.String("opportunity_id", op.ID))
				return schemas.CandidateChange{}, fmt.Errorf("%w: %v", schemas.ErrGenerationFailure, err)
			}
			lastErr = err
			g.logger.Warn("Generation attempt failed",
				zap.String("opportunity_id", op.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		files := ParseFiles(raw)
		if len(files) == 0 {
			lastErr = fmt.Errorf("response contained no file blocks")
			g.logger.Warn("Generation produced no files",
				zap.String("opportunity_id", op.ID),
				zap.Int("attempt", attempt))
			continue
		}

		return schemas.CandidateChange{
			OpportunityID:      op.ID,
			Files:              files,
			GeneratedAt:        time.Now().UTC(),
			GenerationAttempts: attempt,
		}, nil
	}

	return schemas.CandidateChange{}, fmt.Errorf("%w after %d attempts: %v", schemas.ErrGenerationFailure, attempts, lastErr)
}

// ParseFiles extracts path-annotated fenced code blocks from a response.
// Blocks without a path in the info string are ignored. The last block for
// a repeated path wins.
func ParseFiles(response string) map[string]string {
	matches := fenceRe.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return nil
	}
	files := make(map[string]string, len(matches))
	for _, m := range matches {
		path := strings.TrimSpace(m[2])
		if path == "" {
			continue
		}
		files[path] = m[3]
	}
	if len(files) == 0 {
		return nil
	}
	return files
}
