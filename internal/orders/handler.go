package orders

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocklane/stocklane/internal/platform/httpx"
)

type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/fulfill", h.fulfill)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/receive", h.receive)
}

type createItemRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	Notes     string  `json:"notes" validate:"max=500"`
}

type createOrderRequest struct {
	Type           string              `json:"type" validate:"required,oneof=vendor_purchase branch_request material_receipt"`
	Priority       string              `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	BranchID       int64               `json:"branch_id" validate:"required,gt=0"`
	SupplierID     int64               `json:"supplier_id" validate:"gte=0"`
	SourceBranchID int64               `json:"source_branch_id" validate:"gte=0"`
	SourceRef      string              `json:"source_ref" validate:"max=255"`
	Notes          string              `json:"notes" validate:"max=1000"`
	ExpectedAt     time.Time           `json:"expected_at" validate:"required"`
	Items          []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type fulfillLineRequest struct {
	ItemID       int64   `json:"item_id" validate:"required,gt=0"`
	FulfilledQty float64 `json:"fulfilled_qty" validate:"gte=0"`
	SpoiledQty   float64 `json:"spoiled_qty" validate:"gte=0"`
	WeightDiff   float64 `json:"weight_diff"`
	ExpiresAt    string  `json:"expires_at,omitempty"`
	Notes        string  `json:"notes" validate:"max=500"`
}

type fulfillRequest struct {
	Lines []fulfillLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := ListFilters{
		Type:     OrderType(r.URL.Query().Get("type")),
		Status:   Status(r.URL.Query().Get("status")),
		Priority: Priority(r.URL.Query().Get("priority")),
	}
	filters.BranchID, _ = strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	filters.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filters.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	items, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": order, "items": items})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	input := CreateInput{
		Type:           OrderType(req.Type),
		Priority:       Priority(req.Priority),
		BranchID:       req.BranchID,
		SupplierID:     req.SupplierID,
		SourceBranchID: req.SourceBranchID,
		SourceRef:      req.SourceRef,
		Notes:          req.Notes,
		ExpectedAt:     req.ExpectedAt,
		ActorID:        httpx.ActorID(r),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, CreateItem{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			Notes:     item.Notes,
		})
	}

	order, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	if err := h.service.Approve(r.Context(), id, httpx.ActorID(r)); err != nil {
		h.logger.Error("approve order", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusSent)})
}

func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req fulfillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	lines := make([]FulfillLine, 0, len(req.Lines))
	for i, line := range req.Lines {
		fl := FulfillLine{
			ItemID:       line.ItemID,
			FulfilledQty: line.FulfilledQty,
			SpoiledQty:   line.SpoiledQty,
			WeightDiff:   line.WeightDiff,
			Notes:        line.Notes,
		}
		if line.ExpiresAt != "" {
			expiresAt, err := time.Parse(time.RFC3339, line.ExpiresAt)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid payload", "line "+strconv.Itoa(i)+": expires_at must be RFC3339")
				return
			}
			fl.ExpiresAt = expiresAt
		}
		lines = append(lines, fl)
	}

	summary, err := h.service.Fulfill(r.Context(), id, httpx.ActorID(r), lines)
	if err != nil {
		h.logger.Error("fulfill order", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":         string(StatusConfirmed),
		"received_qty":   summary.ReceivedQty,
		"spoiled_qty":    summary.SpoiledQty,
		"lines_credited": summary.LinesCredited,
		"losses_booked":  summary.LossesBooked,
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	if err := h.service.Cancel(r.Context(), id, httpx.ActorID(r), req.Reason); err != nil {
		h.logger.Error("cancel order", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusCancelled)})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	if err := h.service.AcknowledgeReceipt(r.Context(), id, httpx.ActorID(r)); err != nil {
		h.logger.Error("receive order", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusReceived)})
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "order id must be numeric")
		return 0, false
	}
	return id, true
}
