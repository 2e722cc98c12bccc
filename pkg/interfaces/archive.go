package interfaces

import (
	"context"

	"tandem/pkg/types"
)

// DeliveryArchive persists the finalize audit trail. Live session state is
// never persisted; only the outcome of each delivery attempt is.
type DeliveryArchive interface {
	// RecordDelivery appends one delivery attempt to the archive.
	RecordDelivery(ctx context.Context, record *types.DeliveryRecord) error

	// ListDeliveries returns the most recent delivery records.
	ListDeliveries(ctx context.Context, limit int) ([]*types.DeliveryRecord, error)

	// HealthCheck validates archive connectivity.
	HealthCheck(ctx context.Context) error

	// Close shuts down the archive.
	Close() error
}
