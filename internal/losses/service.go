package losses

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filters ListFilters) ([]LossRecord, error)
}

// Service books and lists stock losses.
type Service struct {
	repo   RepositoryPort
	audit  *shared.AuditLogger
	logger *slog.Logger
	clock  func() time.Time
}

func NewService(repo RepositoryPort, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Record books a loss and debits the ledger in the same transaction. The
// debit is forced: a loss observed on the shelf is a fact, so it is booked
// even when the ledger quantity is already lower than expected. A resulting
// negative level is logged for investigation.
func (s *Service) Record(ctx context.Context, input RecordInput) (LossRecord, error) {
	if input.BranchID == 0 || input.ProductID == 0 {
		return LossRecord{}, fmt.Errorf("%w: branch and product required", shared.ErrValidation)
	}
	if input.Qty <= 0 {
		return LossRecord{}, fmt.Errorf("%w: loss quantity must be positive", shared.ErrValidation)
	}
	if !input.Type.Valid() {
		return LossRecord{}, fmt.Errorf("%w: unknown loss type %q", shared.ErrValidation, input.Type)
	}
	refModule := input.RefModule
	if refModule == "" {
		refModule = "losses"
	}

	now := s.now()
	record := LossRecord{
		BranchID:   input.BranchID,
		ProductID:  input.ProductID,
		BatchCode:  input.BatchCode,
		Qty:        input.Qty,
		Type:       input.Type,
		Notes:      input.Notes,
		RefModule:  refModule,
		RefID:      input.RefID,
		ActorID:    input.ActorID,
		RecordedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movement, err := ledger.Apply(ctx, tx, ledger.AdjustInput{
			BranchID:  input.BranchID,
			ProductID: input.ProductID,
			Delta:     -input.Qty,
			Reason:    fmt.Sprintf("loss:%s", input.Type),
			RefModule: refModule,
			RefID:     input.RefID,
			ActorID:   input.ActorID,
			Force:     true,
		}, now)
		if err != nil {
			return err
		}
		record.UnitCost = movement.UnitCost
		record.TotalValue = input.Qty * movement.UnitCost
		if movement.BalanceAfter < 0 {
			s.log().Warn("loss drove stock level negative",
				slog.Int64("branch_id", input.BranchID),
				slog.Int64("product_id", input.ProductID),
				slog.Float64("balance_after", movement.BalanceAfter))
		}
		id, err := tx.InsertLoss(ctx, record)
		if err != nil {
			return err
		}
		record.ID = id
		return nil
	})
	if err != nil {
		return LossRecord{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "loss.record",
			Entity:   "loss_record",
			EntityID: strconv.FormatInt(record.ID, 10),
			Meta: map[string]any{
				"branch_id":  input.BranchID,
				"product_id": input.ProductID,
				"qty":        input.Qty,
				"type":       string(input.Type),
			},
		})
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]LossRecord, error) {
	if filters.Type != "" && !filters.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown loss type %q", shared.ErrValidation, filters.Type)
	}
	return s.repo.List(ctx, filters)
}
