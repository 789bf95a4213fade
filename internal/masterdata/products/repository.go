package products

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/shared"
)

// ListFilters narrows product listings.
type ListFilters struct {
	Search     string
	Active     *bool
	Perishable *bool
	Limit      int
	Offset     int
}

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id int64) (Product, error)
	GetByCode(ctx context.Context, code string) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, product Product) error
	SetActive(ctx context.Context, id int64, active bool) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const productColumns = `id, code, name, unit, purchase_price, selling_price, perishable, shelf_life_days, low_stock_threshold, active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.PurchasePrice, &p.SellingPrice,
		&p.Perishable, &p.ShelfLifeDays, &p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.ErrNotFound
	}
	return p, err
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM products WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		placeholder := `$` + strconv.Itoa(argCount)
		query += ` AND (name ILIKE ` + placeholder + ` OR code ILIKE ` + placeholder + `)`
		countQuery += ` AND (name ILIKE ` + placeholder + ` OR code ILIKE ` + placeholder + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Active != nil {
		argCount++
		query += ` AND active = $` + strconv.Itoa(argCount)
		countQuery += ` AND active = $` + strconv.Itoa(argCount)
		args = append(args, *filters.Active)
	}
	if filters.Perishable != nil {
		argCount++
		query += ` AND perishable = $` + strconv.Itoa(argCount)
		countQuery += ` AND perishable = $` + strconv.Itoa(argCount)
		args = append(args, *filters.Perishable)
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY code`
	page := shared.Pagination{Limit: filters.Limit, Offset: filters.Offset}.Normalise()
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, page.Limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, page.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.PurchasePrice, &p.SellingPrice,
			&p.Perishable, &p.ShelfLifeDays, &p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *repository) GetByCode(ctx context.Context, code string) (Product, error) {
	return scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE code = $1`, code))
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	query := `INSERT INTO products (code, name, unit, purchase_price, selling_price, perishable, shelf_life_days, low_stock_threshold, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		product.Code, product.Name, product.Unit, product.PurchasePrice, product.SellingPrice,
		product.Perishable, product.ShelfLifeDays, product.LowStockThreshold, product.Active).
		Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
	return product, err
}

func (r *repository) Update(ctx context.Context, product Product) error {
	query := `UPDATE products SET name = $1, unit = $2, purchase_price = $3, selling_price = $4,
		perishable = $5, shelf_life_days = $6, low_stock_threshold = $7, updated_at = NOW()
		WHERE id = $8`
	tag, err := r.db.Exec(ctx, query,
		product.Name, product.Unit, product.PurchasePrice, product.SellingPrice,
		product.Perishable, product.ShelfLifeDays, product.LowStockThreshold, product.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
