package orders

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
	Get(ctx context.Context, id int64) (Order, []Item, error)
	List(ctx context.Context, filters ListFilters) ([]Order, int, error)
}

// ProductPort resolves product master data for price defaults.
type ProductPort interface {
	Get(ctx context.Context, id int64) (products.Product, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the order lifecycle.
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

func (s *Service) dispatch(ctx context.Context, name string, meta map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Dispatch(ctx, notify.Event{Name: name, At: s.now(), Meta: meta}); err != nil {
		s.log().Warn("dispatch event", slog.String("event", name), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
	})
}

func numberPrefix(t OrderType) string {
	switch t {
	case TypeBranchRequest:
		return "REQ"
	case TypeMaterialReceipt:
		return "MRN"
	default:
		return "PO"
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// refID derives a stable reference for ledger postings of one order.
func refID(orderID int64) string {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("orders:%d", orderID))).String()
}

// Create registers a draft order. Item prices default to the product's
// purchase price when the caller sends zero.
func (s *Service) Create(ctx context.Context, input CreateInput) (Order, error) {
	if !input.Type.Valid() {
		return Order{}, fmt.Errorf("%w: unknown order type %q", shared.ErrValidation, input.Type)
	}
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if !input.Priority.Valid() {
		return Order{}, fmt.Errorf("%w: unknown priority %q", shared.ErrValidation, input.Priority)
	}
	if input.BranchID == 0 {
		return Order{}, fmt.Errorf("%w: branch required", shared.ErrValidation)
	}
	if len(input.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order needs at least one item", shared.ErrValidation)
	}
	now := s.now()
	if !input.ExpectedAt.After(now) {
		return Order{}, fmt.Errorf("%w: expected delivery must be after creation", shared.ErrValidation)
	}
	switch input.Type {
	case TypeVendorPurchase:
		if input.SupplierID == 0 {
			return Order{}, fmt.Errorf("%w: vendor purchase needs a supplier", shared.ErrValidation)
		}
	case TypeBranchRequest:
		if input.SourceBranchID == 0 {
			return Order{}, fmt.Errorf("%w: branch request needs a source branch", shared.ErrValidation)
		}
		if input.SourceBranchID == input.BranchID {
			return Order{}, fmt.Errorf("%w: source and destination branch must differ", shared.ErrValidation)
		}
	}

	items := make([]Item, 0, len(input.Items))
	var total float64
	for i, in := range input.Items {
		if in.ProductID == 0 {
			return Order{}, fmt.Errorf("%w: item %d: product required", shared.ErrValidation, i)
		}
		if in.Qty <= 0 {
			return Order{}, fmt.Errorf("%w: item %d: quantity must be positive", shared.ErrValidation, i)
		}
		price := in.UnitPrice
		if price < 0 {
			return Order{}, fmt.Errorf("%w: item %d: unit price cannot be negative", shared.ErrValidation, i)
		}
		if price == 0 && s.products != nil {
			product, err := s.products.Get(ctx, in.ProductID)
			if err != nil {
				return Order{}, fmt.Errorf("item %d: resolve product: %w", i, err)
			}
			price = product.PurchasePrice
		}
		total += in.Qty * price
		items = append(items, Item{ProductID: in.ProductID, Qty: in.Qty, UnitPrice: price, Notes: in.Notes})
	}

	order := Order{
		Number:         generateNumber(numberPrefix(input.Type)),
		Type:           input.Type,
		Priority:       input.Priority,
		Status:         StatusDraft,
		BranchID:       input.BranchID,
		SupplierID:     input.SupplierID,
		SourceBranchID: input.SourceBranchID,
		SourceRef:      input.SourceRef,
		Notes:          input.Notes,
		TotalValue:     total,
		ExpectedAt:     input.ExpectedAt.UTC(),
		CreatedBy:      input.ActorID,
		CreatedAt:      now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orderID, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = orderID
		for i := range items {
			items[i].OrderID = orderID
			itemID, err := tx.InsertItem(ctx, items[i])
			if err != nil {
				return err
			}
			items[i].ID = itemID
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, input.ActorID, "order.create", order.ID, map[string]any{"number": order.Number, "type": string(order.Type)})
	return order, nil
}

// Approve sends a draft order out for fulfilment.
func (s *Service) Approve(ctx context.Context, orderID, actorID int64) error {
	order, _, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != StatusDraft {
		return fmt.Errorf("%w: order %s is %s, only drafts can be approved", shared.ErrInvalidState, order.Number, order.Status)
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.TransitionStatus(ctx, orderID, StatusDraft, StatusSent, now)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrConcurrencyConflict
		}
		return tx.SetApproval(ctx, orderID, actorID, now)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "order.approve", orderID, map[string]any{"number": order.Number})
	s.dispatch(ctx, notify.EventOrderApproved, map[string]any{
		"order_id": orderID, "number": order.Number, "branch_id": order.BranchID,
	})
	return nil
}

// Fulfill confirms a sent order with counted quantities. The status change,
// item updates, stock credits and damage write-offs commit as one unit, and
// a second call for the same order fails instead of double-crediting.
func (s *Service) Fulfill(ctx context.Context, orderID, actorID int64, lines []FulfillLine) (reconcile.Summary, error) {
	order, items, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return reconcile.Summary{}, err
	}
	if order.Status != StatusSent {
		return reconcile.Summary{}, fmt.Errorf("%w: order %s is %s, only sent orders can be fulfilled", shared.ErrInvalidState, order.Number, order.Status)
	}
	if len(lines) == 0 {
		return reconcile.Summary{}, fmt.Errorf("%w: fulfilment needs at least one line", shared.ErrValidation)
	}

	itemsByID := make(map[int64]Item, len(items))
	for _, item := range items {
		itemsByID[item.ID] = item
	}
	seen := make(map[int64]bool, len(lines))
	recLines := make([]reconcile.Line, 0, len(lines))
	for i, line := range lines {
		item, ok := itemsByID[line.ItemID]
		if !ok {
			return reconcile.Summary{}, fmt.Errorf("%w: line %d: item %d does not belong to order", shared.ErrValidation, i, line.ItemID)
		}
		if seen[line.ItemID] {
			return reconcile.Summary{}, fmt.Errorf("%w: line %d: item %d reported twice", shared.ErrValidation, i, line.ItemID)
		}
		seen[line.ItemID] = true
		if line.FulfilledQty < 0 || line.SpoiledQty < 0 {
			return reconcile.Summary{}, fmt.Errorf("%w: line %d: quantities cannot be negative", shared.ErrValidation, i)
		}
		recLines = append(recLines, reconcile.Line{
			ProductID:    item.ProductID,
			FulfilledQty: line.FulfilledQty,
			SpoiledQty:   line.SpoiledQty,
			WeightDiff:   line.WeightDiff,
			UnitCost:     item.UnitPrice,
			ExpiresAt:    line.ExpiresAt,
			Notes:        line.Notes,
		})
	}

	key := fmt.Sprintf("orders:fulfill:%d", orderID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "orders"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return reconcile.Summary{}, fmt.Errorf("%w: %s", shared.ErrInvalidState, ErrAlreadyFulfilled)
			}
			return reconcile.Summary{}, err
		}
		insertedKey = true
	}

	now := s.now()
	ref := reconcile.Ref{Module: "orders", ID: refID(orderID), BranchID: order.BranchID, ActorID: actorID}
	var summary reconcile.Summary
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.TransitionStatus(ctx, orderID, StatusSent, StatusConfirmed, now)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrConcurrencyConflict
		}
		for _, line := range lines {
			if err := tx.UpdateItemFulfilment(ctx, line.ItemID, line.FulfilledQty, line.SpoiledQty, line.WeightDiff, line.Notes); err != nil {
				return err
			}
		}
		summary, err = reconcile.Apply(ctx, &receiptTx{tx: tx, now: now}, ref, recLines)
		if err != nil {
			return err
		}
		// The counted delivery replaces the ordered total on the document.
		if err := tx.SetTotalValue(ctx, orderID, summary.ReceivedValue); err != nil {
			return err
		}
		return tx.SetFulfilledAt(ctx, orderID, now)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return reconcile.Summary{}, err
	}

	s.recordAudit(ctx, actorID, "order.fulfill", orderID, map[string]any{
		"number": order.Number, "received_qty": summary.ReceivedQty, "spoiled_qty": summary.SpoiledQty,
	})
	s.dispatch(ctx, notify.EventOrderFulfilled, map[string]any{
		"order_id": orderID, "number": order.Number, "branch_id": order.BranchID,
		"received_qty": summary.ReceivedQty, "spoiled_qty": summary.SpoiledQty,
	})
	return summary, nil
}

// Cancel voids an order that has not moved stock yet. A reason is mandatory;
// cancellations show up in vendor and branch reports.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: cancellation reason required", shared.ErrValidation)
	}
	order, _, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != StatusDraft && order.Status != StatusSent {
		return fmt.Errorf("%w: order %s is %s, only draft or sent orders can be cancelled", shared.ErrInvalidState, order.Number, order.Status)
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.TransitionStatus(ctx, orderID, order.Status, StatusCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrConcurrencyConflict
		}
		return tx.SetCancellation(ctx, orderID, reason, now)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "order.cancel", orderID, map[string]any{"number": order.Number, "reason": reason})
	s.dispatch(ctx, notify.EventOrderCancelled, map[string]any{
		"order_id": orderID, "number": order.Number, "reason": reason,
	})
	return nil
}

// AcknowledgeReceipt closes the paper trail on a confirmed order. Stock was
// already credited at fulfilment; this transition changes no quantities.
func (s *Service) AcknowledgeReceipt(ctx context.Context, orderID, actorID int64) error {
	order, _, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != StatusConfirmed {
		return fmt.Errorf("%w: order %s is %s, only confirmed orders can be received", shared.ErrInvalidState, order.Number, order.Status)
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.TransitionStatus(ctx, orderID, StatusConfirmed, StatusReceived, now)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrConcurrencyConflict
		}
		return tx.SetReceivedAt(ctx, orderID, now)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "order.receive", orderID, map[string]any{"number": order.Number})
	return nil
}

func (s *Service) Get(ctx context.Context, orderID int64) (Order, []Item, error) {
	return s.repo.Get(ctx, orderID)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	return s.repo.List(ctx, filters)
}

// receiptTx adapts an order transaction to the reconciliation contract.
type receiptTx struct {
	tx  TxRepository
	now time.Time
}

func (r *receiptTx) CreditStock(ctx context.Context, ref reconcile.Ref, line reconcile.Line, receivedQty float64) error {
	_, err := ledger.Apply(ctx, r.tx, ledger.AdjustInput{
		BranchID:  ref.BranchID,
		ProductID: line.ProductID,
		Delta:     receivedQty,
		UnitCost:  line.UnitCost,
		Reason:    "order receipt",
		RefModule: ref.Module,
		RefID:     ref.ID,
		ActorID:   ref.ActorID,
		ExpiresAt: line.ExpiresAt,
	}, r.now)
	return err
}

// BookLoss records spoilage found at the door. The goods never reached the
// shelf, so there is no ledger debit to pair with the record.
func (r *receiptTx) BookLoss(ctx context.Context, ref reconcile.Ref, line reconcile.Line) error {
	notes := line.Notes
	if notes == "" {
		notes = "spoiled on arrival"
	}
	_, err := r.tx.InsertLossRecord(ctx, losses.LossRecord{
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
		RecordedAt: r.now,
	})
	return err
}

var _ reconcile.Tx = (*receiptTx)(nil)

// ErrAlreadyFulfilled maps the idempotency conflict for callers that want to
// distinguish a repeat submission from other conflicts.
var ErrAlreadyFulfilled = errors.New("order already fulfilled")
