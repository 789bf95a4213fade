package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/losses"
	"github.com/stocklane/stocklane/internal/masterdata/products"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/reconcile"
	"github.com/stocklane/stocklane/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, []Item, error)
	List(ctx context.Context, filters ListFilters) ([]Transfer, int, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]Transfer, error)
}

// ProductPort resolves purchase prices so transfer costs can be frozen at
// creation time.
type ProductPort interface {
	Get(ctx context.Context, id int64) (products.Product, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the transfer lifecycle.
type Service struct {
	repo        RepositoryPort
	products    ProductPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	events      notify.Dispatcher
	logger      *slog.Logger
	clock       func() time.Time
}

func NewService(repo RepositoryPort, productsPort ProductPort, audit AuditPort, idem *shared.IdempotencyStore, events notify.Dispatcher, logger *slog.Logger) *Service {
	return &Service{repo: repo, products: productsPort, audit: audit, idempotency: idem, events: events, logger: logger}
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

func (s *Service) dispatchEvent(ctx context.Context, name string, meta map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Dispatch(ctx, notify.Event{Name: name, At: s.now(), Meta: meta}); err != nil {
		s.log().Warn("dispatch event", slog.String("event", name), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: strconv.FormatInt(transferID, 10),
		Meta:     meta,
	})
}

func refID(transferID int64) string {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("transfers:%d", transferID))).String()
}

// Create registers a pending transfer. Unit costs are frozen from the
// product's purchase price at creation and never recomputed.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.SourceID == 0 || input.DestID == 0 {
		return Transfer{}, fmt.Errorf("%w: source and destination branch required", shared.ErrValidation)
	}
	if input.SourceID == input.DestID {
		return Transfer{}, fmt.Errorf("%w: source and destination branch must differ", shared.ErrValidation)
	}
	if len(input.Items) == 0 {
		return Transfer{}, fmt.Errorf("%w: transfer needs at least one item", shared.ErrValidation)
	}
	now := s.now()
	if !input.ExpectedAt.After(now) {
		return Transfer{}, fmt.Errorf("%w: expected arrival must be after creation", shared.ErrValidation)
	}

	items := make([]Item, 0, len(input.Items))
	for i, in := range input.Items {
		if in.ProductID == 0 {
			return Transfer{}, fmt.Errorf("%w: item %d: product required", shared.ErrValidation, i)
		}
		if in.Qty <= 0 {
			return Transfer{}, fmt.Errorf("%w: item %d: quantity must be positive", shared.ErrValidation, i)
		}
		var unitCost float64
		if s.products != nil {
			product, err := s.products.Get(ctx, in.ProductID)
			if err != nil {
				return Transfer{}, fmt.Errorf("item %d: resolve product: %w", i, err)
			}
			unitCost = product.PurchasePrice
		}
		items = append(items, Item{ProductID: in.ProductID, Qty: in.Qty, UnitCost: unitCost, Notes: in.Notes})
	}

	transfer := Transfer{
		Number:     fmt.Sprintf("TRF-%d", time.Now().UnixNano()),
		Status:     StatusPending,
		SourceID:   input.SourceID,
		DestID:     input.DestID,
		Notes:      input.Notes,
		ExpectedAt: input.ExpectedAt.UTC(),
		CreatedBy:  input.ActorID,
		CreatedAt:  now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transferID, err := tx.CreateTransfer(ctx, transfer)
		if err != nil {
			return err
		}
		transfer.ID = transferID
		for i := range items {
			items[i].TransferID = transferID
			itemID, err := tx.InsertItem(ctx, items[i])
			if err != nil {
				return err
			}
			items[i].ID = itemID
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, input.ActorID, "transfer.create", transfer.ID, map[string]any{"number": transfer.Number})
	return transfer, nil
}

// Dispatch marks the goods as on the road. The source level is not debited;
// goods in transit stay on the source branch's books until the destination
// confirms what arrived.
func (s *Service) Dispatch(ctx context.Context, transferID, actorID int64) error {
	transfer, _, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Status != StatusPending {
		return fmt.Errorf("%w: transfer %s is %s, only pending transfers can be dispatched", shared.ErrInvalidState, transfer.Number, transfer.Status)
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.TransitionStatus(ctx, transferID, StatusPending, StatusDispatched, now)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrConcurrencyConflict
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "transfer.dispatch", transferID, map[string]any{"number": transfer.Number})
	s.dispatchEvent(ctx, notify.EventTransferDispatched, map[string]any{
		"transfer_id": transferID, "number": transfer.Number,
		"source_branch_id": transfer.SourceID, "dest_branch_id": transfer.DestID,
	})
	return nil
}

// MarkDelivered records the physical arrival before counting happens.
func (s *Service) MarkDelivered(ctx context.Context, transferID, actorID int64) error {
	transfer, _, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Status != StatusDispatched {
		return fmt.Errorf("%w: transfer %s is %s, only dispatched transfers can be delivered", shared.ErrInvalidState, transfer.Number, transfer.Status)
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.TransitionStatus(ctx, transferID, StatusDispatched, StatusDelivered, now)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrConcurrencyConflict
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "transfer.deliver", transferID, map[string]any{"number": transfer.Number})
	return nil
}

// Confirm counts the arrival and credits the destination branch. The source
// is not debited; the central supply branch books its issue separately.
// Missing lines default to the full dispatched quantity, and confirming
// twice fails instead of double-crediting.
func (s *Service) Confirm(ctx context.Context, transferID, actorID int64, lines []ConfirmLine) (reconcile.Summary, error) {
	transfer, items, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return reconcile.Summary{}, err
	}
	if transfer.Status != StatusDispatched && transfer.Status != StatusDelivered {
		return reconcile.Summary{}, fmt.Errorf("%w: transfer %s is %s, only dispatched or delivered transfers can be confirmed", shared.ErrInvalidState, transfer.Number, transfer.Status)
	}

	counted := make(map[int64]ConfirmLine, len(lines))
	for i, line := range lines {
		if _, dup := counted[line.ItemID]; dup {
			return reconcile.Summary{}, fmt.Errorf("%w: line %d: item %d reported twice", shared.ErrValidation, i, line.ItemID)
		}
		if line.ReceivedQty < 0 || line.SpoiledQty < 0 {
			return reconcile.Summary{}, fmt.Errorf("%w: line %d: quantities cannot be negative", shared.ErrValidation, i)
		}
		counted[line.ItemID] = line
	}
	itemsByID := make(map[int64]Item, len(items))
	for _, item := range items {
		itemsByID[item.ID] = item
	}
	for itemID := range counted {
		if _, ok := itemsByID[itemID]; !ok {
			return reconcile.Summary{}, fmt.Errorf("%w: item %d does not belong to transfer", shared.ErrValidation, itemID)
		}
	}

	recLines := make([]reconcile.Line, 0, len(items))
	resolved := make([]ConfirmLine, 0, len(items))
	for _, item := range items {
		line, ok := counted[item.ID]
		if !ok {
			line = ConfirmLine{ItemID: item.ID, ReceivedQty: item.Qty}
		}
		resolved = append(resolved, line)
		recLines = append(recLines, reconcile.Line{
			ProductID:    item.ProductID,
			FulfilledQty: line.ReceivedQty,
			SpoiledQty:   line.SpoiledQty,
			UnitCost:     item.UnitCost,
			Notes:        line.Notes,
		})
	}

	key := fmt.Sprintf("transfers:confirm:%d", transferID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "transfers"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return reconcile.Summary{}, fmt.Errorf("%w: transfer already confirmed", shared.ErrInvalidState)
			}
			return reconcile.Summary{}, err
		}
		insertedKey = true
	}

	now := s.now()
	ref := reconcile.Ref{Module: "transfers", ID: refID(transferID), BranchID: transfer.DestID, ActorID: actorID}
	var summary reconcile.Summary
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if transfer.Status == StatusDispatched {
			ok, err := tx.TransitionStatus(ctx, transferID, StatusDispatched, StatusDelivered, now)
			if err != nil {
				return err
			}
			if !ok {
				return shared.ErrConcurrencyConflict
			}
		}
		ok, err := tx.TransitionStatus(ctx, transferID, StatusDelivered, StatusConfirmed, now)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrConcurrencyConflict
		}
		for _, line := range resolved {
			if err := tx.UpdateItemReceipt(ctx, line.ItemID, line.ReceivedQty, line.SpoiledQty, line.Notes); err != nil {
				return err
			}
		}
		summary, err = reconcile.Apply(ctx, &arrivalTx{tx: tx, now: now}, ref, recLines)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return reconcile.Summary{}, err
	}

	s.recordAudit(ctx, actorID, "transfer.confirm", transferID, map[string]any{
		"number": transfer.Number, "received_qty": summary.ReceivedQty, "spoiled_qty": summary.SpoiledQty,
	})
	s.dispatchEvent(ctx, notify.EventTransferConfirmed, map[string]any{
		"transfer_id": transferID, "number": transfer.Number,
		"dest_branch_id": transfer.DestID, "received_qty": summary.ReceivedQty,
	})
	return summary, nil
}

func (s *Service) Get(ctx context.Context, transferID int64) (Transfer, []Item, error) {
	transfer, items, err := s.repo.Get(ctx, transferID)
	if err != nil {
		return Transfer{}, nil, err
	}
	transfer.Overdue = transfer.Status == StatusDispatched && s.now().After(transfer.ExpectedAt)
	return transfer, items, nil
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Transfer, int, error) {
	transfers, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for i := range transfers {
		transfers[i].Overdue = transfers[i].Status == StatusDispatched && now.After(transfers[i].ExpectedAt)
	}
	return transfers, total, nil
}

// ListOverdue returns dispatched transfers past their expected arrival.
func (s *Service) ListOverdue(ctx context.Context) ([]Transfer, error) {
	return s.repo.ListOverdue(ctx, s.now())
}

// arrivalTx adapts a transfer transaction to the reconciliation contract.
type arrivalTx struct {
	tx  TxRepository
	now time.Time
}

func (a *arrivalTx) CreditStock(ctx context.Context, ref reconcile.Ref, line reconcile.Line, receivedQty float64) error {
	_, err := ledger.Apply(ctx, a.tx, ledger.AdjustInput{
		BranchID:  ref.BranchID,
		ProductID: line.ProductID,
		Delta:     receivedQty,
		UnitCost:  line.UnitCost,
		Reason:    "transfer in",
		RefModule: ref.Module,
		RefID:     ref.ID,
		ActorID:   ref.ActorID,
	}, a.now)
	return err
}

func (a *arrivalTx) BookLoss(ctx context.Context, ref reconcile.Ref, line reconcile.Line) error {
	notes := line.Notes
	if notes == "" {
		notes = "spoiled in transit"
	}
	_, err := a.tx.InsertLossRecord(ctx, losses.LossRecord{
		BranchID:   ref.BranchID,
		ProductID:  line.ProductID,
		Qty:        line.SpoiledQty,
		UnitCost:   line.UnitCost,
		TotalValue: line.SpoiledQty * line.UnitCost,
		Type:       losses.LossTypeDamage,
		Notes:      notes,
		RefModule:  ref.Module,
		RefID:      ref.ID,
		ActorID:    ref.ActorID,
		RecordedAt: a.now,
	})
	return err
}

var _ reconcile.Tx = (*arrivalTx)(nil)
