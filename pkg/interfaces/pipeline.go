package interfaces

import (
	"context"

	"tandem/pkg/types"
)

// ReportPipeline is the boundary to the external PDF generation and email
// delivery service. Retry behavior is owned by the remote service; a
// returned error means this attempt did not result in a delivered report.
type ReportPipeline interface {
	// Deliver hands the combined two-participant payload to the pipeline.
	Deliver(ctx context.Context, report *types.CombinedReport) error

	// HealthCheck probes pipeline availability.
	HealthCheck(ctx context.Context) error
}
