package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/deltafeed/internal/domain"
)

// querier is the subset of *pgxpool.Pool used by DeltaStore.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DeltaStore implements domain.DeltaRecordStore using PostgreSQL.
type DeltaStore struct {
	db querier
}

// NewDeltaStore creates a DeltaStore backed by the given connection pool.
func NewDeltaStore(pool *pgxpool.Pool) *DeltaStore {
	return &DeltaStore{db: pool}
}

// Insert stores rec. It returns false without error when the same event
// (symbol, origOrder, procTimeStamp) was already stored.
func (s *DeltaStore) Insert(ctx context.Context, rec domain.DeltaRecord) (bool, error) {
	const query = `
		INSERT INTO delta_records (symbol, delta, cur_value, orig_order, proc_timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT delta_records_event_uniq DO NOTHING`

	tag, err := s.db.Exec(ctx, query,
		rec.Symbol, rec.Delta, rec.CurValue, rec.OrigOrder, rec.ProcTimeStamp,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert delta record %s: %w", rec.Symbol, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListBySymbol returns stored records for symbol, newest first.
func (s *DeltaStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.StoredDeltaRecord, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	const query = `
		SELECT id, symbol, delta, cur_value, orig_order, proc_timestamp, received_at
		FROM delta_records
		WHERE symbol = $1
		  AND ($2::timestamptz IS NULL OR received_at >= $2)
		  AND ($3::timestamptz IS NULL OR received_at < $3)
		ORDER BY received_at DESC, id DESC
		LIMIT $4 OFFSET $5`

	rows, err := s.db.Query(ctx, query, symbol, opts.Since, opts.Until, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list delta records %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []domain.StoredDeltaRecord
	for rows.Next() {
		var r domain.StoredDeltaRecord
		if err := rows.Scan(
			&r.ID, &r.Record.Symbol, &r.Record.Delta, &r.Record.CurValue,
			&r.Record.OrigOrder, &r.Record.ProcTimeStamp, &r.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan delta record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list delta records %s: %w", symbol, err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.DeltaRecordStore = (*DeltaStore)(nil)
