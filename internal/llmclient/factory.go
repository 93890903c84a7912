package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

// NewClient builds the breaker-protected generation client from config.
// The returned BreakerClient satisfies schemas.LLMClient and additionally
// exposes the breaker state for status reporting.
func NewClient(cfg config.GeneratorConfig, logger *zap.Logger) (*BreakerClient, error) {
	inner, err := NewGeminiClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating generation client: %w", err)
	}

	breakerCfg := BreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		OpenTimeout:      cfg.BreakerTimeout,
	}
	return NewBreakerClient(inner, breakerCfg, logger), nil
}

// Wrap protects an existing client with a breaker. Used by tests and by
// callers that supply their own transport.
func Wrap(inner schemas.LLMClient, cfg config.GeneratorConfig, logger *zap.Logger) *BreakerClient {
	return NewBreakerClient(inner, BreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		OpenTimeout:      cfg.BreakerTimeout,
	}, logger)
}
