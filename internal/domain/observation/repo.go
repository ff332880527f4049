package observation

import "context"

type Repository interface {
	// CreateObservation inserts o and sets o.ID from the generated obs_id.
	CreateObservation(ctx context.Context, o *Observation) error
	CreateLogEntry(ctx context.Context, e *MigrationLogEntry) error
}
