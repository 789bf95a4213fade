package losses

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
	r.Post("/", h.record)
}

type recordRequest struct {
	BranchID  int64   `json:"branch_id" validate:"required,gt=0"`
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	BatchCode string  `json:"batch_code" validate:"max=64"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	Type      string  `json:"type" validate:"required,oneof=damage wastage expiry theft other"`
	Notes     string  `json:"notes" validate:"max=1000"`
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	record, err := h.service.Record(r.Context(), RecordInput{
		BranchID:  req.BranchID,
		ProductID: req.ProductID,
		BatchCode: req.BatchCode,
		Qty:       req.Qty,
		Type:      LossType(req.Type),
		Notes:     req.Notes,
		ActorID:   httpx.ActorID(r),
	})
	if err != nil {
		h.logger.Error("record loss", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := ListFilters{Type: LossType(r.URL.Query().Get("type"))}
	filters.BranchID, _ = strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	filters.ProductID, _ = strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	filters.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filters.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if v := r.URL.Query().Get("from"); v != "" {
		filters.From, _ = time.Parse(time.RFC3339, v)
	}
	if v := r.URL.Query().Get("to"); v != "" {
		filters.To, _ = time.Parse(time.RFC3339, v)
	}

	records, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list losses", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": records})
}
