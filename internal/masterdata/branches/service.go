package branches

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stocklane/stocklane/internal/shared"
)

// ErrCentralExists is returned when a second central branch is requested.
var ErrCentralExists = errors.New("a central branch already exists")

// CreateInput carries the fields needed to register a branch.
type CreateInput struct {
	Code    string
	Name    string
	Address string
	Central bool
}

type Service struct {
	repo  Repository
	audit *shared.AuditLogger
}

func NewService(repo Repository, audit *shared.AuditLogger) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Branch, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Branch, error) {
	return s.repo.Get(ctx, id)
}

// Central returns the single central supply branch.
func (s *Service) Central(ctx context.Context) (Branch, error) {
	return s.repo.GetCentral(ctx)
}

// Create registers a branch. At most one branch may be central.
func (s *Service) Create(ctx context.Context, actorID int64, input CreateInput) (Branch, error) {
	code := normaliseCode(input.Code)
	if code == "" {
		return Branch{}, fmt.Errorf("%w: branch code is required", shared.ErrValidation)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Branch{}, fmt.Errorf("%w: branch name is required", shared.ErrValidation)
	}
	if input.Central {
		if _, err := s.repo.GetCentral(ctx); err == nil {
			return Branch{}, fmt.Errorf("%w: %s", shared.ErrValidation, ErrCentralExists)
		} else if !errors.Is(err, shared.ErrNotFound) {
			return Branch{}, err
		}
	}

	created, err := s.repo.Create(ctx, Branch{
		Code:    code,
		Name:    name,
		Address: strings.TrimSpace(input.Address),
		Central: input.Central,
		Active:  true,
	})
	if err != nil {
		return Branch{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "branch.create",
			Entity:   "branch",
			EntityID: strconv.FormatInt(created.ID, 10),
		})
	}
	return created, nil
}

// Deactivate marks a branch inactive. Branches are never deleted because the
// ledger and order history reference them.
func (s *Service) Deactivate(ctx context.Context, actorID, id int64) error {
	branch, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if branch.Central {
		return fmt.Errorf("%w: central branch cannot be deactivated", shared.ErrValidation)
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "branch.deactivate",
			Entity:   "branch",
			EntityID: strconv.FormatInt(id, 10),
		})
	}
	return nil
}

var upper = cases.Upper(language.Und)

func normaliseCode(code string) string {
	return upper.String(strings.TrimSpace(code))
}
