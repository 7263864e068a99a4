package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/franchise-ops/franchise-console/internal/platform/httpx"
	"github.com/franchise-ops/franchise-console/internal/shared"
)

// Lister is the read side the handler needs.
type Lister interface {
	ListBranch(ctx context.Context, branchID int64) ([]Product, error)
}

// Handler exposes the branch catalog so clients can build order forms.
type Handler struct {
	logger *slog.Logger
	repo   Lister
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, repo Lister) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes attaches catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/catalog", h.list)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	branchID := principal.BranchID
	if raw := r.URL.Query().Get("branch_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: branch_id must be a positive integer", httpx.ErrValidation))
			return
		}
		branchID = id
	}
	if branchID == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: branch_id is required", httpx.ErrValidation))
		return
	}
	if !principal.CanSeeBranch(branchID) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	products, err := h.repo.ListBranch(r.Context(), branchID)
	if err != nil {
		h.logger.Error("list catalog", slog.Int64("branch_id", branchID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if products == nil {
		products = []Product{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"branch_id": branchID, "items": products})
}
