package losses

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/shared"
)

// TxRepository combines loss persistence with ledger posting so a record and
// its stock debit commit or roll back together.
type TxRepository interface {
	ledger.TxRepository
	InsertLoss(ctx context.Context, record LossRecord) (int64, error)
}

// Repository persists loss records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	ledger.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("losses repository not initialised")
	}
	err := r.runTx(ctx, fn)
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		err = r.runTx(ctx, fn)
	}
	return err
}

func (r *Repository) runTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{TxRepository: ledger.NewTxRepository(tx), tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return shared.MapPgConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return shared.MapPgConflict(err)
	}
	return nil
}

func (r *txRepository) InsertLoss(ctx context.Context, record LossRecord) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO loss_records (branch_id, product_id, batch_code, qty, unit_cost, total_value, loss_type, notes, ref_module, ref_id, actor_id, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		record.BranchID, record.ProductID, nullStr(record.BatchCode), record.Qty, record.UnitCost, record.TotalValue,
		string(record.Type), record.Notes, record.RefModule, nullStr(record.RefID), nullInt(record.ActorID), record.RecordedAt).Scan(&id)
	return id, err
}

func (r *Repository) List(ctx context.Context, filters ListFilters) ([]LossRecord, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, branch_id, product_id, COALESCE(batch_code, ''), qty, unit_cost, total_value, loss_type, notes, ref_module, COALESCE(ref_id::text, ''), COALESCE(actor_id, 0), recorded_at
FROM loss_records
WHERE ($1 = 0 OR branch_id = $1)
  AND ($2 = 0 OR product_id = $2)
  AND ($3 = '' OR loss_type = $3)
  AND recorded_at BETWEEN COALESCE($4, '-infinity') AND COALESCE($5, 'infinity')
ORDER BY recorded_at DESC, id DESC
LIMIT $6 OFFSET $7`,
		filters.BranchID, filters.ProductID, string(filters.Type), nullTime(filters.From), nullTime(filters.To), limit, filters.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []LossRecord{}
	for rows.Next() {
		var rec LossRecord
		if err := rows.Scan(&rec.ID, &rec.BranchID, &rec.ProductID, &rec.BatchCode, &rec.Qty, &rec.UnitCost, &rec.TotalValue,
			&rec.Type, &rec.Notes, &rec.RefModule, &rec.RefID, &rec.ActorID, &rec.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
