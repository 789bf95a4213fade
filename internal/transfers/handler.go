package transfers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/stocklane/stocklane/internal/platform/httpx"
)

type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	overdueSF singleflight.Group
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/overdue", h.overdue)
	r.Get("/{id}", h.show)
	r.Post("/{id}/dispatch", h.dispatch)
	r.Post("/{id}/deliver", h.deliver)
	r.Post("/{id}/confirm", h.confirm)
}

type createTransferItemRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	Notes     string  `json:"notes" validate:"max=500"`
}

type createTransferRequest struct {
	SourceBranchID int64                       `json:"source_branch_id" validate:"required,gt=0"`
	DestBranchID   int64                       `json:"dest_branch_id" validate:"required,gt=0"`
	Notes          string                      `json:"notes" validate:"max=1000"`
	ExpectedAt     time.Time                   `json:"expected_at" validate:"required"`
	Items          []createTransferItemRequest `json:"items" validate:"required,min=1,dive"`
}

type confirmLineRequest struct {
	ItemID      int64   `json:"item_id" validate:"required,gt=0"`
	ReceivedQty float64 `json:"received_qty" validate:"gte=0"`
	SpoiledQty  float64 `json:"spoiled_qty" validate:"gte=0"`
	Notes       string  `json:"notes" validate:"max=500"`
}

type confirmRequest struct {
	Lines []confirmLineRequest `json:"lines" validate:"dive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := ListFilters{Status: Status(r.URL.Query().Get("status"))}
	filters.SourceID, _ = strconv.ParseInt(r.URL.Query().Get("source_branch_id"), 10, 64)
	filters.DestID, _ = strconv.ParseInt(r.URL.Query().Get("dest_branch_id"), 10, 64)
	filters.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filters.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	items, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list transfers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

// overdue collapses concurrent dashboard polls into a single query.
func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	result, err, _ := h.overdueSF.Do("overdue", func() (interface{}, error) {
		return h.service.ListOverdue(r.Context())
	})
	if err != nil {
		h.logger.Error("list overdue transfers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transferID(w, r)
	if !ok {
		return
	}
	transfer, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfer": transfer, "items": items})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	input := CreateInput{
		SourceID:   req.SourceBranchID,
		DestID:     req.DestBranchID,
		Notes:      req.Notes,
		ExpectedAt: req.ExpectedAt,
		ActorID:    httpx.ActorID(r),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, CreateItem{ProductID: item.ProductID, Qty: item.Qty, Notes: item.Notes})
	}

	transfer, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create transfer", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transferID(w, r)
	if !ok {
		return
	}
	if err := h.service.Dispatch(r.Context(), id, httpx.ActorID(r)); err != nil {
		h.logger.Error("dispatch transfer", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusDispatched)})
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transferID(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkDelivered(r.Context(), id, httpx.ActorID(r)); err != nil {
		h.logger.Error("deliver transfer", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusDelivered)})
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transferID(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	lines := make([]ConfirmLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, ConfirmLine{
			ItemID:      line.ItemID,
			ReceivedQty: line.ReceivedQty,
			SpoiledQty:  line.SpoiledQty,
			Notes:       line.Notes,
		})
	}

	summary, err := h.service.Confirm(r.Context(), id, httpx.ActorID(r), lines)
	if err != nil {
		h.logger.Error("confirm transfer", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":       string(StatusConfirmed),
		"received_qty": summary.ReceivedQty,
		"spoiled_qty":  summary.SpoiledQty,
	})
}

func (h *Handler) transferID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transfer id must be numeric")
		return 0, false
	}
	return id, true
}
