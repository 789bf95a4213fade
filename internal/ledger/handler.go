package ledger

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
	r.Get("/levels", h.listLevels)
	r.Get("/levels/{branchID}/{productID}", h.getLevel)
	r.Get("/movements", h.listMovements)
	r.Post("/adjust", h.adjust)
}

type adjustRequest struct {
	BranchID     int64   `json:"branch_id" validate:"required,gt=0"`
	ProductID    int64   `json:"product_id" validate:"required,gt=0"`
	Delta        float64 `json:"delta" validate:"required"`
	UnitCost     float64 `json:"unit_cost" validate:"gte=0"`
	SellingPrice float64 `json:"selling_price" validate:"gte=0"`
	Reason       string  `json:"reason" validate:"required,max=255"`
	BatchCode    string  `json:"batch_code" validate:"max=64"`
	ExpiresAt    string  `json:"expires_at,omitempty"`
}

func (h *Handler) listLevels(w http.ResponseWriter, r *http.Request) {
	branchID, _ := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	levels, err := h.service.ListLevels(r.Context(), branchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": levels})
}

func (h *Handler) getLevel(w http.ResponseWriter, r *http.Request) {
	branchID, err1 := strconv.ParseInt(chi.URLParam(r, "branchID"), 10, 64)
	productID, err2 := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err1 != nil || err2 != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "branch and product ids must be numeric")
		return
	}
	level, err := h.service.GetLevel(r.Context(), branchID, productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter := MovementFilter{RefModule: r.URL.Query().Get("ref_module")}
	filter.BranchID, _ = strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	filter.ProductID, _ = strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if v := r.URL.Query().Get("from"); v != "" {
		filter.From, _ = time.Parse(time.RFC3339, v)
	}
	if v := r.URL.Query().Get("to"); v != "" {
		filter.To, _ = time.Parse(time.RFC3339, v)
	}

	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": movements})
}

// adjust posts a manual correction. Losses and document postings have their
// own endpoints; manual adjustments never force the level negative.
func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	input := AdjustInput{
		BranchID:     req.BranchID,
		ProductID:    req.ProductID,
		Delta:        req.Delta,
		UnitCost:     req.UnitCost,
		SellingPrice: req.SellingPrice,
		Reason:       req.Reason,
		RefModule:    "manual",
		ActorID:      httpx.ActorID(r),
		BatchCode:    req.BatchCode,
	}
	if req.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid payload", "expires_at must be RFC3339")
			return
		}
		input.ExpiresAt = expiresAt
	}

	movement, err := h.service.Adjust(r.Context(), input)
	if err != nil {
		h.logger.Error("adjust stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}
