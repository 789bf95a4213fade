package orders

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

// TxRepository bundles order persistence with ledger posting and loss
// booking, so confirming a delivery is one unit of work.
type TxRepository interface {
	ledger.TxRepository
	CreateOrder(ctx context.Context, order Order) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItemFulfilment(ctx context.Context, itemID int64, fulfilledQty, spoiledQty, weightDiff float64, notes string) error
	TransitionStatus(ctx context.Context, orderID int64, from, to Status, at time.Time) (bool, error)
	SetApproval(ctx context.Context, orderID, actorID int64, at time.Time) error
	SetCancellation(ctx context.Context, orderID int64, reason string, at time.Time) error
	SetFulfilledAt(ctx context.Context, orderID int64, at time.Time) error
	SetReceivedAt(ctx context.Context, orderID int64, at time.Time) error
	SetTotalValue(ctx context.Context, orderID int64, total float64) error
	InsertLossRecord(ctx context.Context, record losses.LossRecord) (int64, error)
}

// Repository persists orders in PostgreSQL.
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
		return errors.New("orders repository not initialised")
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

const orderColumns = `id, number, order_type, priority, status, branch_id, COALESCE(supplier_id, 0), COALESCE(source_branch_id, 0), COALESCE(source_ref, ''), notes, total_value, expected_at, COALESCE(created_by, 0), created_at, approved_at, COALESCE(approved_by, 0), fulfilled_at, received_at, cancelled_at, COALESCE(cancel_reason, '')`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.Type, &o.Priority, &o.Status, &o.BranchID, &o.SupplierID,
		&o.SourceBranchID, &o.SourceRef, &o.Notes, &o.TotalValue, &o.ExpectedAt, &o.CreatedBy, &o.CreatedAt,
		&o.ApprovedAt, &o.ApprovedBy, &o.FulfilledAt, &o.ReceivedAt, &o.CancelledAt, &o.CancelReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.ErrNotFound
	}
	return o, err
}

// Get loads an order with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Order, []Item, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, product_id, qty, unit_price, fulfilled_qty, spoiled_qty, weight_diff, notes FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return Order{}, nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Qty, &item.UnitPrice,
			&item.FulfilledQty, &item.SpoiledQty, &item.WeightDiff, &item.Notes); err != nil {
			return Order{}, nil, err
		}
		items = append(items, item)
	}
	return order, items, rows.Err()
}

func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM orders WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	appendCond := func(cond string, value interface{}) {
		argCount++
		query += ` AND ` + cond + `$` + strconv.Itoa(argCount)
		countQuery += ` AND ` + cond + `$` + strconv.Itoa(argCount)
		args = append(args, value)
	}
	if filters.BranchID != 0 {
		appendCond("branch_id = ", filters.BranchID)
	}
	if filters.Type != "" {
		appendCond("order_type = ", string(filters.Type))
	}
	if filters.Status != "" {
		appendCond("status = ", string(filters.Status))
	}
	if filters.Priority != "" {
		appendCond("priority = ", string(filters.Priority))
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
	orders := []Order{}
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Number, &o.Type, &o.Priority, &o.Status, &o.BranchID, &o.SupplierID,
			&o.SourceBranchID, &o.SourceRef, &o.Notes, &o.TotalValue, &o.ExpectedAt, &o.CreatedBy, &o.CreatedAt,
			&o.ApprovedAt, &o.ApprovedBy, &o.FulfilledAt, &o.ReceivedAt, &o.CancelledAt, &o.CancelReason); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

func (r *txRepository) CreateOrder(ctx context.Context, order Order) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO orders (number, order_type, priority, status, branch_id, supplier_id, source_branch_id, source_ref, notes, total_value, expected_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		order.Number, string(order.Type), string(order.Priority), string(order.Status), order.BranchID,
		nullInt(order.SupplierID), nullInt(order.SourceBranchID), nullStr(order.SourceRef), order.Notes,
		order.TotalValue, order.ExpectedAt, nullInt(order.CreatedBy), order.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, qty, unit_price, fulfilled_qty, spoiled_qty, weight_diff, notes)
VALUES ($1,$2,$3,$4,0,0,0,$5) RETURNING id`,
		item.OrderID, item.ProductID, item.Qty, item.UnitPrice, item.Notes).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateItemFulfilment(ctx context.Context, itemID int64, fulfilledQty, spoiledQty, weightDiff float64, notes string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE order_items SET fulfilled_qty=$1, spoiled_qty=$2, weight_diff=$3, notes=CASE WHEN $4 = '' THEN notes ELSE $4 END WHERE id=$5`,
		fulfilledQty, spoiledQty, weightDiff, notes, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TransitionStatus flips the status only when the row still holds the
// expected source state. A false return means another workflow got there
// first.
func (r *txRepository) TransitionStatus(ctx context.Context, orderID int64, from, to Status, at time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
		string(to), at, orderID, string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) SetApproval(ctx context.Context, orderID, actorID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE orders SET approved_at=$1, approved_by=$2 WHERE id=$3`, at, nullInt(actorID), orderID)
	return err
}

func (r *txRepository) SetCancellation(ctx context.Context, orderID int64, reason string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE orders SET cancelled_at=$1, cancel_reason=$2 WHERE id=$3`, at, reason, orderID)
	return err
}

func (r *txRepository) SetReceivedAt(ctx context.Context, orderID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE orders SET received_at=$1 WHERE id=$2`, at, orderID)
	return err
}

func (r *txRepository) SetFulfilledAt(ctx context.Context, orderID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE orders SET fulfilled_at=$1 WHERE id=$2`, at, orderID)
	return err
}

func (r *txRepository) SetTotalValue(ctx context.Context, orderID int64, total float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE orders SET total_value=$1 WHERE id=$2`, total, orderID)
	return err
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
