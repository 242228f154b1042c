package storage

import (
	"context"

	"fieldtrack/internal/domain"
)

// VisitStore is the durable record store the ledger commits into. Put is
// atomic per key; ListByPerson is the range scan the query and session
// layers build on. Implementations are interface-driven so the in-memory
// store, PostgreSQL, or an external KV engine can be swapped without
// touching ledger logic.
type VisitStore interface {
	Put(ctx context.Context, visit domain.Visit) error
	Get(ctx context.Context, key domain.VisitKey) (domain.Visit, error)
	// ListByPerson returns visits for one person whose planned date falls in
	// [fromDate, toDate] (inclusive, "2006-01-02"), ordered by date,
	// location, and sequence number.
	ListByPerson(ctx context.Context, personID, fromDate, toDate string) ([]domain.Visit, error)
}
