package replenish

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs the scheduler queries. Every insert is deduplicated at the
// database level so a pass can be re-run after a partial failure without
// producing duplicate alerts or markdowns.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListExpiringBatches returns batches with remaining quantity whose expiry
// falls on or before the deadline.
func (r *Repository) ListExpiringBatches(ctx context.Context, deadline time.Time) ([]BatchInfo, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, branch_id, product_id, qty, expires_at, discount_pct
FROM stock_batches
WHERE qty > 0 AND expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at ASC, id ASC`, deadline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []BatchInfo{}
	for rows.Next() {
		var b BatchInfo
		if err := rows.Scan(&b.BatchID, &b.BranchID, &b.ProductID, &b.Qty, &b.ExpiresAt, &b.DiscountPct); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// InsertExpiryAlert records an open expiry alert. Returns false when an open
// alert for the same (branch, product, batch) already exists.
func (r *Repository) InsertExpiryAlert(ctx context.Context, alert ExpiryAlert) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO expiry_alerts (branch_id, product_id, batch_id, qty, expires_at, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (branch_id, product_id, batch_id) WHERE status = 'open' DO NOTHING`,
		alert.BranchID, alert.ProductID, alert.BatchID, alert.Qty, alert.ExpiresAt, string(AlertOpen), alert.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyBatchDiscount marks the batch down and opens the matching price
// adjustment. The batch update is guarded on discount_pct = 0 so an already
// discounted batch is skipped even if two cycles race.
func (r *Repository) ApplyBatchDiscount(ctx context.Context, batch BatchInfo, pct float64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_batches SET discount_pct = $1, discounted_at = $2
WHERE id = $3 AND discount_pct = 0`, pct, at, batch.BatchID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO price_adjustments (batch_id, branch_id, product_id, discount_pct, active, created_at)
VALUES ($1,$2,$3,$4,true,$5)`,
		batch.BatchID, batch.BranchID, batch.ProductID, pct, at)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ExpireAdjustments deactivates adjustments whose batch has expired or sold
// out and returns how many were closed.
func (r *Repository) ExpireAdjustments(ctx context.Context, asOf time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE price_adjustments pa SET active = false, expired_at = $1
FROM stock_batches b
WHERE pa.batch_id = b.id AND pa.active AND (b.expires_at <= $1 OR b.qty <= 0)`, asOf)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListBelowThreshold returns active-product levels sitting under their reorder
// threshold.
func (r *Repository) ListBelowThreshold(ctx context.Context) ([]ReorderCandidate, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.branch_id, l.product_id, l.qty, p.low_stock_threshold
FROM stock_levels l
JOIN products p ON p.id = l.product_id
WHERE p.active AND p.low_stock_threshold > 0 AND l.qty < p.low_stock_threshold
ORDER BY l.branch_id, l.product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	candidates := []ReorderCandidate{}
	for rows.Next() {
		var c ReorderCandidate
		if err := rows.Scan(&c.BranchID, &c.ProductID, &c.Qty, &c.Threshold); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// InsertReorderAlert records an open reorder alert. Returns false when an open
// alert for the same (branch, product) already exists.
func (r *Repository) InsertReorderAlert(ctx context.Context, alert ReorderAlert) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO reorder_alerts (branch_id, product_id, qty, threshold, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (branch_id, product_id) WHERE status = 'open' DO NOTHING`,
		alert.BranchID, alert.ProductID, alert.Qty, alert.Threshold, string(AlertOpen), alert.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListActionableAlerts returns open reorder alerts created before the cutoff,
// refreshed with the current level so the order quantity reflects the latest
// count rather than the one captured when the alert fired. Alerts whose key
// already has an order in flight are excluded.
func (r *Repository) ListActionableAlerts(ctx context.Context, cutoff time.Time) ([]ReorderAlert, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.branch_id, a.product_id, COALESCE(l.qty, 0), a.threshold, a.status, a.created_at
FROM reorder_alerts a
LEFT JOIN stock_levels l ON l.branch_id = a.branch_id AND l.product_id = a.product_id
WHERE a.status = 'open' AND a.created_at <= $1
AND NOT EXISTS (
	SELECT 1 FROM orders o
	JOIN order_items oi ON oi.order_id = o.id
	WHERE o.branch_id = a.branch_id AND oi.product_id = a.product_id
	AND o.status IN ('draft','sent','confirmed')
)
ORDER BY a.created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	alerts := []ReorderAlert{}
	for rows.Next() {
		var a ReorderAlert
		if err := rows.Scan(&a.ID, &a.BranchID, &a.ProductID, &a.Qty, &a.Threshold, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkAlertOrdered closes an alert with the order that satisfied it. Guarded
// on the open status so concurrent cycles cannot double-order.
func (r *Repository) MarkAlertOrdered(ctx context.Context, alertID, orderID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE reorder_alerts SET status = $1, order_id = $2 WHERE id = $3 AND status = $4`,
		string(AlertOrdered), orderID, alertID, string(AlertOpen))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
