package branches

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/shared"
)

// ListFilters narrows branch listings.
type ListFilters struct {
	Search  string
	Active  *bool
	Central *bool
	Limit   int
	Offset  int
}

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Branch, int, error)
	Get(ctx context.Context, id int64) (Branch, error)
	GetCentral(ctx context.Context) (Branch, error)
	Create(ctx context.Context, branch Branch) (Branch, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Branch, int, error) {
	query := `SELECT id, code, name, address, central, active, created_at, updated_at FROM branches WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM branches WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	appendCond := func(cond string, value interface{}) {
		argCount++
		query += ` AND ` + cond + `$` + strconv.Itoa(argCount)
		countQuery += ` AND ` + cond + `$` + strconv.Itoa(argCount)
		args = append(args, value)
	}

	if filters.Search != "" {
		argCount++
		placeholder := `$` + strconv.Itoa(argCount)
		query += ` AND (name ILIKE ` + placeholder + ` OR code ILIKE ` + placeholder + `)`
		countQuery += ` AND (name ILIKE ` + placeholder + ` OR code ILIKE ` + placeholder + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.Active != nil {
		appendCond("active = ", *filters.Active)
	}
	if filters.Central != nil {
		appendCond("central = ", *filters.Central)
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

	var items []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.Central, &b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Branch, error) {
	query := `SELECT id, code, name, address, central, active, created_at, updated_at FROM branches WHERE id = $1`
	var b Branch
	err := r.db.QueryRow(ctx, query, id).Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.Central, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, shared.ErrNotFound
	}
	return b, err
}

func (r *repository) GetCentral(ctx context.Context) (Branch, error) {
	query := `SELECT id, code, name, address, central, active, created_at, updated_at FROM branches WHERE central LIMIT 1`
	var b Branch
	err := r.db.QueryRow(ctx, query).Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.Central, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, shared.ErrNotFound
	}
	return b, err
}

func (r *repository) Create(ctx context.Context, branch Branch) (Branch, error) {
	query := `INSERT INTO branches (code, name, address, central, active) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query, branch.Code, branch.Name, branch.Address, branch.Central, branch.Active).
		Scan(&branch.ID, &branch.CreatedAt, &branch.UpdatedAt)
	return branch, err
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE branches SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
