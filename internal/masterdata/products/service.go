package products

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stocklane/stocklane/internal/shared"
)

// SaveInput carries the editable product fields.
type SaveInput struct {
	Code              string
	Name              string
	Unit              string
	PurchasePrice     float64
	SellingPrice      float64
	Perishable        bool
	ShelfLifeDays     int
	LowStockThreshold float64
}

type Service struct {
	repo  Repository
	audit *shared.AuditLogger
}

func NewService(repo Repository, audit *shared.AuditLogger) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (Product, error) {
	return s.repo.GetByCode(ctx, upper.String(strings.TrimSpace(code)))
}

func (s *Service) Create(ctx context.Context, actorID int64, input SaveInput) (Product, error) {
	product, err := buildProduct(input)
	if err != nil {
		return Product{}, err
	}
	product.Active = true

	created, err := s.repo.Create(ctx, product)
	if err != nil {
		return Product{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "product.create",
			Entity:   "product",
			EntityID: strconv.FormatInt(created.ID, 10),
		})
	}
	return created, nil
}

func (s *Service) Update(ctx context.Context, actorID, id int64, input SaveInput) (Product, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	product, err := buildProduct(input)
	if err != nil {
		return Product{}, err
	}
	product.ID = existing.ID
	product.Code = existing.Code
	product.Active = existing.Active

	if err := s.repo.Update(ctx, product); err != nil {
		return Product{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "product.update",
			Entity:   "product",
			EntityID: strconv.FormatInt(id, 10),
		})
	}
	return s.repo.Get(ctx, id)
}

// Deactivate hides a product from new documents; history keeps referencing it.
func (s *Service) Deactivate(ctx context.Context, actorID, id int64) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "product.deactivate",
			Entity:   "product",
			EntityID: strconv.FormatInt(id, 10),
		})
	}
	return nil
}

var (
	upper = cases.Upper(language.Und)
	title = cases.Title(language.Und)
)

func buildProduct(input SaveInput) (Product, error) {
	code := upper.String(strings.TrimSpace(input.Code))
	if code == "" {
		return Product{}, fmt.Errorf("%w: product code is required", shared.ErrValidation)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", shared.ErrValidation)
	}
	if input.PurchasePrice < 0 || input.SellingPrice < 0 {
		return Product{}, fmt.Errorf("%w: prices cannot be negative", shared.ErrValidation)
	}
	if input.Perishable && input.ShelfLifeDays <= 0 {
		return Product{}, fmt.Errorf("%w: perishable products need a shelf life in days", shared.ErrValidation)
	}
	if input.LowStockThreshold < 0 {
		return Product{}, fmt.Errorf("%w: low stock threshold cannot be negative", shared.ErrValidation)
	}
	unit := strings.TrimSpace(input.Unit)
	if unit == "" {
		unit = "pcs"
	}
	shelfLife := input.ShelfLifeDays
	if !input.Perishable {
		shelfLife = 0
	}
	return Product{
		Code:              code,
		Name:              title.String(name),
		Unit:              strings.ToLower(unit),
		PurchasePrice:     input.PurchasePrice,
		SellingPrice:      input.SellingPrice,
		Perishable:        input.Perishable,
		ShelfLifeDays:     shelfLife,
		LowStockThreshold: input.LowStockThreshold,
	}, nil
}
