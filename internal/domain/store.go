package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StoredDeltaRecord is a DeltaRecord persisted by the record consumer.
type StoredDeltaRecord struct {
	ID         int64
	Record     DeltaRecord
	ReceivedAt time.Time
}

// DeltaRecordStore persists the downstream record history.
type DeltaRecordStore interface {
	// Insert stores rec. It returns false when an identical record (same
	// symbol, origin and processing timestamp) is already stored.
	Insert(ctx context.Context, rec DeltaRecord) (bool, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]StoredDeltaRecord, error)
}
