package purchasing

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/franchise-ops/franchise-console/internal/platform/httpx"
	"github.com/franchise-ops/franchise-console/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _, _, _ := newTestService()
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r, svc
}

func doJSON(t *testing.T, router http.Handler, principal *shared.Principal, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if principal != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *principal))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	return problem
}

func createViaHTTP(t *testing.T, router http.Handler) OrderResponse {
	t.Helper()
	rr := doJSON(t, router, &branch2, http.MethodPost, "/orders", CreateOrderRequest{
		Lines: []CreateLineRequest{{ProductID: 10, Quantity: 5}, {ProductID: 11, Quantity: 3}},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func orderPath(id int64, suffix string) string {
	return "/orders/" + strconv.FormatInt(id, 10) + suffix
}

func TestHandlerCreateOrderDefaultsBranch(t *testing.T) {
	router, _ := newTestRouter(t)
	resp := createViaHTTP(t, router)

	require.Equal(t, int64(2), resp.BranchID)
	require.Equal(t, StatusPending, resp.Status)
	require.Equal(t, "승인 대기", resp.StatusLabel)
	require.True(t, resp.Provisional)
	require.Equal(t, []Action{ActionCancel}, resp.AllowedActions)
	require.Equal(t, "11000", resp.TotalPrice.String())
}

func TestHandlerCreateOrderValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, &branch2, http.MethodPost, "/orders", CreateOrderRequest{
		Lines: []CreateLineRequest{{ProductID: 10, Quantity: 0}},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION_ERROR", decodeProblem(t, rr).Code)

	rr = doJSON(t, router, &branch2, http.MethodPost, "/orders", CreateOrderRequest{
		Lines: []CreateLineRequest{{ProductID: 12, Quantity: 1}},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "UNKNOWN_PRODUCT", decodeProblem(t, rr).Code)

	rr = doJSON(t, router, &branch2, http.MethodPost, "/orders", map[string]any{"lines": []any{}, "extra": true})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, &branch2, http.MethodPost, "/orders", map[string]any{
		"lines": []map[string]any{{"quantity": 1}},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	problem := decodeProblem(t, rr)
	require.Equal(t, "required", problem.Fields["CreateOrderRequest.Lines[0].ProductID"])
}

func TestHandlerCreateOrderIdempotencyHeader(t *testing.T) {
	router, svc := newTestRouter(t)
	svc.SetIdempotency(newMemoryIdempotency())
	body := CreateOrderRequest{Lines: []CreateLineRequest{{ProductID: 10, Quantity: 1}}}

	first := doJSON(t, router, &branch2, http.MethodPost, "/orders", body, "Idempotency-Key", "abc")
	second := doJSON(t, router, &branch2, http.MethodPost, "/orders", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)

	var a, b OrderResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	require.Equal(t, a.ID, b.ID)
}

func TestHandlerRequiresPrincipal(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := doJSON(t, router, nil, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandlerTransitionFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	order := createViaHTTP(t, router)

	rr := doJSON(t, router, &branch2, http.MethodPost, orderPath(order.ID, "/approve"), VersionRequest{Version: order.Version})
	require.Equal(t, http.StatusForbidden, rr.Code)
	problem := decodeProblem(t, rr)
	require.Equal(t, "FORBIDDEN", problem.Code)
	require.Empty(t, problem.Detail)

	rr = doJSON(t, router, &hq, http.MethodPost, orderPath(order.ID, "/partial-approve"), PartialApproveRequest{
		Version: order.Version,
		Approvals: []LineApprovalRequest{
			{LineID: order.Lines[0].ID, ApprovedQuantity: 5},
			{LineID: order.Lines[1].ID, ApprovedQuantity: 1},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var partial OrderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &partial))
	require.Equal(t, StatusPartial, partial.Status)
	require.Equal(t, "7000", partial.TotalPrice.String())
	require.False(t, partial.Provisional)

	rr = doJSON(t, router, &hq, http.MethodPost, orderPath(order.ID, "/ship"), VersionRequest{Version: order.Version})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "STALE_VERSION", decodeProblem(t, rr).Code)

	rr = doJSON(t, router, &hq, http.MethodPost, orderPath(order.ID, "/complete"), VersionRequest{Version: partial.Version})
	require.Equal(t, http.StatusConflict, rr.Code)
	problem = decodeProblem(t, rr)
	require.Equal(t, "INVALID_TRANSITION", problem.Code)
	require.Equal(t, string(StatusPartial), problem.Fields["status"])
	require.Equal(t, string(ActionComplete), problem.Fields["action"])

	rr = doJSON(t, router, &hq, http.MethodPost, orderPath(order.ID, "/ship"), VersionRequest{Version: partial.Version})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, router, &branch2, http.MethodGet, orderPath(order.ID, "/history"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history struct {
		Entries []shared.ApprovalLog `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	require.Len(t, history.Entries, 3)
}

func TestHandlerPartialApproveDuplicateLine(t *testing.T) {
	router, _ := newTestRouter(t)
	order := createViaHTTP(t, router)

	rr := doJSON(t, router, &hq, http.MethodPost, orderPath(order.ID, "/partial-approve"), PartialApproveRequest{
		Version: order.Version,
		Approvals: []LineApprovalRequest{
			{LineID: order.Lines[0].ID, ApprovedQuantity: 1},
			{LineID: order.Lines[0].ID, ApprovedQuantity: 2},
		},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION_ERROR", decodeProblem(t, rr).Code)

	rr = doJSON(t, router, &hq, http.MethodPost, orderPath(order.ID, "/partial-approve"), PartialApproveRequest{
		Version:   order.Version,
		Approvals: []LineApprovalRequest{{LineID: order.Lines[0].ID, ApprovedQuantity: 9}},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "QUANTITY_OUT_OF_RANGE", decodeProblem(t, rr).Code)
}

func TestHandlerRejectRequiresReason(t *testing.T) {
	router, _ := newTestRouter(t)
	order := createViaHTTP(t, router)

	rr := doJSON(t, router, &hq, http.MethodPost, orderPath(order.ID, "/reject"), RejectRequest{Version: order.Version, Reason: "  "})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "REASON_REQUIRED", decodeProblem(t, rr).Code)

	rr = doJSON(t, router, &hq, http.MethodPost, orderPath(order.ID, "/reject"), RejectRequest{Version: order.Version, Reason: "단종 상품"})
	require.Equal(t, http.StatusOK, rr.Code)
	var rejected OrderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rejected))
	require.Equal(t, "단종 상품", rejected.RejectionReason)
}

func TestHandlerHidesForeignOrders(t *testing.T) {
	router, _ := newTestRouter(t)
	order := createViaHTTP(t, router)

	for _, path := range []string{orderPath(order.ID, "/"), orderPath(order.ID, "/actions"), orderPath(order.ID, "/export")} {
		rr := doJSON(t, router, &branch3, http.MethodGet, path, nil)
		require.Equal(t, http.StatusNotFound, rr.Code, path)
	}
	rr := doJSON(t, router, &hq, http.MethodGet, "/orders/abc/", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerListAndStatistics(t *testing.T) {
	router, _ := newTestRouter(t)
	createViaHTTP(t, router)
	createViaHTTP(t, router)

	rr := doJSON(t, router, &hq, http.MethodGet, "/orders?size=1&dir=asc", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var list OrderListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, 2, list.Pagination.Total)
	require.Equal(t, "22000", list.TotalPrice.String())

	rr = doJSON(t, router, &hq, http.MethodGet, "/orders?dir=sideways", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = doJSON(t, router, &hq, http.MethodGet, "/orders?status=inProgress", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	for _, query := range []string{"page=abc", "size=ten", "page=-1", "size=0"} {
		rr = doJSON(t, router, &hq, http.MethodGet, "/orders?"+query, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, query)
		require.Equal(t, "VALIDATION_ERROR", decodeProblem(t, rr).Code, query)
	}

	rr = doJSON(t, router, &hq, http.MethodGet, "/statistics?dimension=byProduct&status=pending", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var stats Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Equal(t, DimensionProduct, stats.Dimension)
	require.Len(t, stats.Points, 2)
	require.Equal(t, "22000", stats.TotalPrice.String())

	rr = doJSON(t, router, &hq, http.MethodGet, "/statistics?dimension=byColor", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = doJSON(t, router, &hq, http.MethodGet, "/statistics?from=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
