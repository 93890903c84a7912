package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for the improvement cycle. Each maps to a recovery path;
// none of them crash the orchestrator.
var (
	// ErrTelemetryUnavailable is recovered locally via the stale-cache
	// fallback with a confidence penalty.
	ErrTelemetryUnavailable = errors.New("telemetry backend unavailable")

	// ErrGenerationFailure terminates an improvement after retries are
	// exhausted; the opportunity is not requeued.
	ErrGenerationFailure = errors.New("candidate generation failed")

	// ErrDeploymentFailure means no partial writes occurred; the component
	// is in its pre-deployment state.
	ErrDeploymentFailure = errors.New("deployment failed")

	// ErrDegradationDetected triggers an automatic rollback.
	ErrDegradationDetected = errors.New("degradation threshold exceeded")

	// ErrApprovalTimeout declines a system-wide deployment.
	ErrApprovalTimeout = errors.New("approval not granted in time")

	// ErrApprovalDenied declines a system-wide deployment by operator
	// decision.
	ErrApprovalDenied = errors.New("approval denied")

	// ErrCircuitOpen is returned while the generation breaker fails fast.
	ErrCircuitOpen = errors.New("generation circuit breaker is open")

	// ErrEmergencyDisabled rejects new cycle starts while the operator
	// kill switch is engaged.
	ErrEmergencyDisabled = errors.New("improvement cycle is emergency disabled")
)

// ValidationError carries the specific failing checks so they can be fed
// back into prompt refinement.
type ValidationError struct {
	FailedChecks []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.FailedChecks, ", "))
}
