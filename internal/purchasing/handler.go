package purchasing

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/franchise-ops/franchise-console/internal/platform/httpx"
	"github.com/franchise-ops/franchise-console/internal/shared"
)

// Handler manages purchase order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.showOrder)
			r.Get("/actions", h.allowedActions)
			r.Get("/history", h.history)
			r.Get("/export", h.export)
			r.Post("/approve", h.simpleTransition(ActionApprove))
			r.Post("/partial-approve", h.partialApprove)
			r.Post("/reject", h.reject)
			r.Post("/ship", h.simpleTransition(ActionShip))
			r.Post("/complete", h.simpleTransition(ActionComplete))
			r.Post("/cancel", h.simpleTransition(ActionCancel))
		})
	})
	r.Get("/statistics", h.statistics)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	branchID := req.BranchID
	if branchID == 0 && !principal.IsHeadquarters() {
		branchID = principal.BranchID
	}
	lines := make([]RequestedLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, RequestedLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	order, err := h.service.CreateOrder(r.Context(), principal, CreateOrderInput{
		BranchID:       branchID,
		Lines:          lines,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, decorate(order, principal))
}

func (h *Handler) showOrder(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.orderRequest(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), principal, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decorate(order, principal))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Sort: q.Get("sort")}
	var err error
	if filter.Page, err = optionalPaging(q.Get("page"), "page"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Size, err = optionalPaging(q.Get("size"), "size"); err != nil {
		h.writeError(w, r, err)
		return
	}
	switch strings.ToLower(q.Get("dir")) {
	case "", "desc":
		filter.Desc = true
	case "asc":
	default:
		h.writeError(w, r, fmt.Errorf("%w: dir must be asc or desc", ErrValidation))
		return
	}
	if filter.BranchID, err = optionalInt(q.Get("branch_id"), "branch_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Status, err = optionalStatus(q.Get("status")); err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.service.ListOrders(r.Context(), principal, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]OrderResponse, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, decorate(order, principal))
	}
	httpx.JSON(w, http.StatusOK, OrderListResponse{Items: items, Pagination: page.Pagination, TotalPrice: page.TotalPrice})
}

func (h *Handler) allowedActions(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.orderRequest(w, r)
	if !ok {
		return
	}
	actions, err := h.service.AllowedActions(r.Context(), principal, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_id": id, "allowed_actions": actions})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.orderRequest(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), principal, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_id": id, "entries": entries})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.orderRequest(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), principal, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": ExportRows(order)})
}

func (h *Handler) simpleTransition(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, id, ok := h.orderRequest(w, r)
		if !ok {
			return
		}
		var req VersionRequest
		if !h.decode(w, r, &req) {
			return
		}
		h.respondTransition(w, r, principal, id, Command{Action: action, Version: req.Version})
	}
}

func (h *Handler) partialApprove(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.orderRequest(w, r)
	if !ok {
		return
	}
	var req PartialApproveRequest
	if !h.decode(w, r, &req) {
		return
	}
	approvals := make(map[int64]int64, len(req.Approvals))
	for _, a := range req.Approvals {
		if _, dup := approvals[a.LineID]; dup {
			h.writeError(w, r, &LineError{LineID: a.LineID, Err: fmt.Errorf("%w: line approved twice", ErrValidation)})
			return
		}
		approvals[a.LineID] = a.ApprovedQuantity
	}
	h.respondTransition(w, r, principal, id, Command{Action: ActionPartialApprove, Version: req.Version, Approvals: approvals})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := h.orderRequest(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respondTransition(w, r, principal, id, Command{Action: ActionReject, Version: req.Version, Reason: req.Reason})
}

func (h *Handler) respondTransition(w http.ResponseWriter, r *http.Request, principal shared.Principal, id int64, cmd Command) {
	order, err := h.service.Perform(r.Context(), principal, id, cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decorate(order, principal))
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	dim, err := ParseDimension(q.Get("dimension"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var filter StatsFilter
	if filter.BranchID, err = optionalInt(q.Get("branch_id"), "branch_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Status, err = optionalStatus(q.Get("status")); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.From, err = optionalTime(q.Get("from"), "from"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.To, err = optionalTime(q.Get("to"), "to"); err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.service.GetStatistics(r.Context(), principal, dim, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (shared.Principal, bool) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return shared.Principal{}, false
	}
	return principal, true
}

func (h *Handler) orderRequest(w http.ResponseWriter, r *http.Request) (shared.Principal, int64, bool) {
	principal, ok := h.principal(w, r)
	if !ok {
		return shared.Principal{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, ErrNotFound)
		return shared.Principal{}, 0, false
	}
	return principal, id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", ErrValidation, err))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		fields := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
		}
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusBadRequest,
			Title:  "Validation Failed",
			Detail: "request body failed validation",
			Code:   ErrorCode(ErrValidation),
			Fields: fields,
		})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	problem := httpx.ProblemDetail{Code: ErrorCode(err), Detail: err.Error()}
	switch Classify(err) {
	case ClassValidation:
		problem.Status, problem.Title = http.StatusBadRequest, "Validation Failed"
	case ClassConflict:
		problem.Status, problem.Title = http.StatusConflict, "Conflict"
		var terr *TransitionError
		if errors.As(err, &terr) {
			allowed := make([]string, 0, len(terr.Allowed))
			for _, a := range terr.Allowed {
				allowed = append(allowed, string(a))
			}
			problem.Fields = map[string]string{
				"status":  string(terr.From),
				"action":  string(terr.Action),
				"allowed": strings.Join(allowed, ","),
			}
		}
	case ClassForbidden:
		problem.Status, problem.Title, problem.Detail = http.StatusForbidden, "Forbidden", ""
	case ClassNotFound:
		problem.Status, problem.Title, problem.Detail = http.StatusNotFound, "Not Found", "order not found"
	default:
		h.logger.Error("purchasing request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		problem.Status, problem.Title, problem.Detail = http.StatusInternalServerError, "Internal Error", ""
	}
	httpx.WriteProblem(w, problem)
}

func decorate(order PurchaseOrder, principal shared.Principal) OrderResponse {
	return OrderResponse{
		PurchaseOrder:  order,
		StatusLabel:    order.Status.Label(),
		Provisional:    order.Provisional(),
		AllowedActions: AllowedActions(order, principal),
	}
}

func optionalInt(raw, field string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive integer", ErrValidation, field)
	}
	return &v, nil
}

// optionalPaging parses a page or size parameter; zero means the default.
func optionalPaging(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrValidation, field)
	}
	return v, nil
}

func optionalStatus(raw string) (*Status, error) {
	if raw == "" {
		return nil, nil
	}
	s, err := ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func optionalTime(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be RFC3339 or YYYY-MM-DD", ErrValidation, field)
}
