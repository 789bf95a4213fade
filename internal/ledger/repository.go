package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service and by
// documents that post stock as part of their own unit of work.
type TxRepository interface {
	GetLevelForUpdate(ctx context.Context, branchID, productID int64) (Level, error)
	UpsertLevel(ctx context.Context, level Level) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	InsertBatch(ctx context.Context, batch Batch) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an already-open transaction so documents can post
// stock as part of their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// ErrLevelNotFound indicates no stock row exists yet for the pair.
var ErrLevelNotFound = errors.New("stock level not found")

// WithTx executes the callback inside a repeatable-read transaction.
// Serialisation failures surface as shared.ErrConcurrencyConflict; a conflict
// is retried once against fresh state before it reaches the caller.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
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
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return shared.MapPgConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return shared.MapPgConflict(err)
	}
	return nil
}

func (r *Repository) GetLevel(ctx context.Context, branchID, productID int64) (Level, error) {
	var level Level
	err := r.pool.QueryRow(ctx, `SELECT branch_id, product_id, qty, avg_cost, COALESCE(selling_price, 0), updated_at FROM stock_levels WHERE branch_id=$1 AND product_id=$2`, branchID, productID).
		Scan(&level.BranchID, &level.ProductID, &level.Qty, &level.AvgCost, &level.SellingPrice, &level.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Level{BranchID: branchID, ProductID: productID}, nil
	}
	return level, err
}

func (r *Repository) ListLevels(ctx context.Context, branchID int64) ([]Level, error) {
	rows, err := r.pool.Query(ctx, `SELECT branch_id, product_id, qty, avg_cost, COALESCE(selling_price, 0), updated_at FROM stock_levels WHERE branch_id=$1 ORDER BY product_id`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := []Level{}
	for rows.Next() {
		var level Level
		if err := rows.Scan(&level.BranchID, &level.ProductID, &level.Qty, &level.AvgCost, &level.SellingPrice, &level.UpdatedAt); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, branch_id, product_id, qty_change, unit_cost, balance_after, reason, ref_module, COALESCE(ref_id::text, ''), COALESCE(actor_id, 0), posted_at
FROM stock_movements
WHERE ($1 = 0 OR branch_id = $1)
  AND ($2 = 0 OR product_id = $2)
  AND ($3 = '' OR ref_module = $3)
  AND posted_at BETWEEN COALESCE($4, '-infinity') AND COALESCE($5, 'infinity')
ORDER BY posted_at DESC, id DESC
LIMIT $6`, filter.BranchID, filter.ProductID, filter.RefModule, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.BranchID, &m.ProductID, &m.QtyChange, &m.UnitCost, &m.BalanceAfter, &m.Reason, &m.RefModule, &m.RefID, &m.ActorID, &m.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) GetLevelForUpdate(ctx context.Context, branchID, productID int64) (Level, error) {
	var level Level
	err := r.tx.QueryRow(ctx, `SELECT branch_id, product_id, qty, avg_cost, COALESCE(selling_price, 0), updated_at FROM stock_levels WHERE branch_id=$1 AND product_id=$2 FOR UPDATE`, branchID, productID).
		Scan(&level.BranchID, &level.ProductID, &level.Qty, &level.AvgCost, &level.SellingPrice, &level.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{BranchID: branchID, ProductID: productID}, ErrLevelNotFound
		}
		return Level{}, err
	}
	return level, nil
}

func (r *txRepository) UpsertLevel(ctx context.Context, level Level) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_levels (branch_id, product_id, qty, avg_cost, selling_price, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (branch_id, product_id) DO UPDATE SET qty=EXCLUDED.qty, avg_cost=EXCLUDED.avg_cost, selling_price=EXCLUDED.selling_price, updated_at=NOW()`,
		level.BranchID, level.ProductID, level.Qty, level.AvgCost, level.SellingPrice)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (branch_id, product_id, qty_change, unit_cost, balance_after, reason, ref_module, ref_id, actor_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		movement.BranchID, movement.ProductID, movement.QtyChange, movement.UnitCost, movement.BalanceAfter,
		movement.Reason, movement.RefModule, nullUUID(movement.RefID), nullInt(movement.ActorID), movement.PostedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_batches (branch_id, product_id, batch_code, qty, unit_cost, expires_at, discount_pct, created_at)
VALUES ($1,$2,$3,$4,$5,$6,0,NOW())`,
		batch.BranchID, batch.ProductID, batch.BatchCode, batch.Qty, batch.UnitCost, nullTime(batch.ExpiresAt))
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullUUID(value string) any {
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
