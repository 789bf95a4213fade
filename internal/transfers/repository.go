package transfers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/losses"
	"github.com/stocklane/stocklane/internal/shared"
)

// TxRepository bundles transfer persistence with ledger posting so the
// confirmation credit commits together with the status change.
type TxRepository interface {
	ledger.TxRepository
	CreateTransfer(ctx context.Context, transfer Transfer) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItemReceipt(ctx context.Context, itemID int64, receivedQty, spoiledQty float64, notes string) error
	TransitionStatus(ctx context.Context, transferID int64, from, to Status, at time.Time) (bool, error)
	InsertLossRecord(ctx context.Context, record losses.LossRecord) (int64, error)
}

// Repository persists transfers in PostgreSQL.
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

// WithTx executes the callback inside a repeatable-read transaction. A
// concurrency conflict is retried once against fresh state before surfacing.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfers repository not initialised")
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

const transferColumns = `id, number, status, source_branch_id, dest_branch_id, notes, expected_at, COALESCE(created_by, 0), created_at, dispatched_at, delivered_at, confirmed_at`

func (r *Repository) Get(ctx context.Context, id int64) (Transfer, []Item, error) {
	var t Transfer
	err := r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1`, id).
		Scan(&t.ID, &t.Number, &t.Status, &t.SourceID, &t.DestID, &t.Notes, &t.ExpectedAt, &t.CreatedBy,
			&t.CreatedAt, &t.DispatchedAt, &t.DeliveredAt, &t.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, nil, shared.ErrNotFound
	}
	if err != nil {
		return Transfer{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id, product_id, qty, unit_cost, received_qty, spoiled_qty, notes FROM stock_transfer_items WHERE transfer_id = $1 ORDER BY id`, id)
	if err != nil {
		return Transfer{}, nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.TransferID, &item.ProductID, &item.Qty, &item.UnitCost,
			&item.ReceivedQty, &item.SpoiledQty, &item.Notes); err != nil {
			return Transfer{}, nil, err
		}
		items = append(items, item)
	}
	return t, items, rows.Err()
}

func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Transfer, int, error) {
	query := `SELECT ` + transferColumns + ` FROM stock_transfers WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM stock_transfers WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	appendCond := func(cond string, value interface{}) {
		argCount++
		query += ` AND ` + cond + `$` + strconv.Itoa(argCount)
		countQuery += ` AND ` + cond + `$` + strconv.Itoa(argCount)
		args = append(args, value)
	}
	if filters.SourceID != 0 {
		appendCond("source_branch_id = ", filters.SourceID)
	}
	if filters.DestID != 0 {
		appendCond("dest_branch_id = ", filters.DestID)
	}
	if filters.Status != "" {
		appendCond("status = ", string(filters.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY created_at DESC, id DESC`
	page := shared.Pagination{Limit: filters.Limit, Offset: filters.Offset}.Normalise()
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, page.Limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, page.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	transfers := []Transfer{}
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.Number, &t.Status, &t.SourceID, &t.DestID, &t.Notes, &t.ExpectedAt,
			&t.CreatedBy, &t.CreatedAt, &t.DispatchedAt, &t.DeliveredAt, &t.ConfirmedAt); err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, t)
	}
	return transfers, total, rows.Err()
}

// ListOverdue returns transfers that were dispatched but not delivered by
// their expected arrival. Overdue is evaluated against the passed clock, not
// stored, so a late delivery clears itself.
func (r *Repository) ListOverdue(ctx context.Context, asOf time.Time) ([]Transfer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM stock_transfers
WHERE status = $1 AND expected_at < $2
ORDER BY expected_at ASC`, string(StatusDispatched), asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	transfers := []Transfer{}
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.Number, &t.Status, &t.SourceID, &t.DestID, &t.Notes, &t.ExpectedAt,
			&t.CreatedBy, &t.CreatedAt, &t.DispatchedAt, &t.DeliveredAt, &t.ConfirmedAt); err != nil {
			return nil, err
		}
		t.Overdue = true
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func (r *txRepository) CreateTransfer(ctx context.Context, transfer Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (number, status, source_branch_id, dest_branch_id, notes, expected_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		transfer.Number, string(transfer.Status), transfer.SourceID, transfer.DestID, transfer.Notes,
		transfer.ExpectedAt, nullInt(transfer.CreatedBy), transfer.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfer_items (transfer_id, product_id, qty, unit_cost, received_qty, spoiled_qty, notes)
VALUES ($1,$2,$3,$4,0,0,$5) RETURNING id`,
		item.TransferID, item.ProductID, item.Qty, item.UnitCost, item.Notes).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateItemReceipt(ctx context.Context, itemID int64, receivedQty, spoiledQty float64, notes string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_transfer_items SET received_qty=$1, spoiled_qty=$2, notes=CASE WHEN $3 = '' THEN notes ELSE $3 END WHERE id=$4`,
		receivedQty, spoiledQty, notes, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TransitionStatus flips the status only when the row still holds the
// expected source state and stamps the matching timestamp column.
func (r *txRepository) TransitionStatus(ctx context.Context, transferID int64, from, to Status, at time.Time) (bool, error) {
	column := ""
	switch to {
	case StatusDispatched:
		column = "dispatched_at"
	case StatusDelivered:
		column = "delivered_at"
	case StatusConfirmed:
		column = "confirmed_at"
	}
	query := `UPDATE stock_transfers SET status=$1 WHERE id=$2 AND status=$3`
	args := []interface{}{string(to), transferID, string(from)}
	if column != "" {
		query = `UPDATE stock_transfers SET status=$1, ` + column + `=$4 WHERE id=$2 AND status=$3`
		args = append(args, at)
	}
	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) InsertLossRecord(ctx context.Context, record losses.LossRecord) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO loss_records (branch_id, product_id, batch_code, qty, unit_cost, total_value, loss_type, notes, ref_module, ref_id, actor_id, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		record.BranchID, record.ProductID, nullStr(record.BatchCode), record.Qty, record.UnitCost, record.TotalValue,
		string(record.Type), record.Notes, record.RefModule, nullStr(record.RefID), nullInt(record.ActorID), record.RecordedAt).Scan(&id)
	return id, err
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
