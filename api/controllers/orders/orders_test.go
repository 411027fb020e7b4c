package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mealmesh/ordering-backend/internal/orderview"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/pagination"
)

type stubViewService struct {
	get            func(ctx context.Context, orderID uuid.UUID) (*models.OrderView, error)
	listByConsumer func(ctx context.Context, consumerID uuid.UUID, params pagination.Params) (*orderview.OrderPage, error)
	rebuild        func(ctx context.Context, orderID uuid.UUID) error
}

func (s *stubViewService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderView, error) {
	if s.get != nil {
		return s.get(ctx, orderID)
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (s *stubViewService) ListByConsumer(ctx context.Context, consumerID uuid.UUID, params pagination.Params) (*orderview.OrderPage, error) {
	if s.listByConsumer != nil {
		return s.listByConsumer(ctx, consumerID, params)
	}
	return &orderview.OrderPage{}, nil
}

func (s *stubViewService) ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, params pagination.Params) (*orderview.OrderPage, error) {
	return &orderview.OrderPage{}, nil
}

func (s *stubViewService) ListByCourier(ctx context.Context, courierID uuid.UUID, params pagination.Params) (*orderview.OrderPage, error) {
	return &orderview.OrderPage{}, nil
}

func (s *stubViewService) Rebuild(ctx context.Context, orderID uuid.UUID) error {
	if s.rebuild != nil {
		return s.rebuild(ctx, orderID)
	}
	return nil
}

type commandCall struct {
	name    string
	orderID uuid.UUID
	arg     string
}

type stubCommandService struct {
	calls []commandCall
	err   error
}

func (s *stubCommandService) record(name string, orderID uuid.UUID, arg string) error {
	s.calls = append(s.calls, commandCall{name: name, orderID: orderID, arg: arg})
	return s.err
}

func (s *stubCommandService) Approve(ctx context.Context, orderID, courierID uuid.UUID) error {
	return s.record("approve", orderID, courierID.String())
}

func (s *stubCommandService) Reject(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.record("reject", orderID, reason)
}

func (s *stubCommandService) Cancel(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.record("cancel", orderID, reason)
}

func (s *stubCommandService) Accept(ctx context.Context, orderID uuid.UUID) error {
	return s.record("accept", orderID, "")
}

func (s *stubCommandService) StartPreparing(ctx context.Context, orderID uuid.UUID) error {
	return s.record("prepare", orderID, "")
}

func (s *stubCommandService) MarkReadyForPickup(ctx context.Context, orderID uuid.UUID) error {
	return s.record("ready", orderID, "")
}

func (s *stubCommandService) MarkPickedUp(ctx context.Context, orderID uuid.UUID) error {
	return s.record("pickup", orderID, "")
}

func (s *stubCommandService) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	return s.record("deliver", orderID, "")
}

func testRouter(views ViewService, commands CommandService) http.Handler {
	r := chi.NewRouter()
	r.Get("/orders/{orderId}", Detail(views, nil))
	r.Get("/consumers/{consumerId}/orders", ListByConsumer(views, nil))
	r.Post("/orders/{orderId}/cancel", Cancel(commands, nil))
	r.Post("/orders/{orderId}/accept", Accept(commands, nil))
	r.Post("/orders/{orderId}/approve", Approve(commands, nil))
	r.Post("/orders/{orderId}/rebuild-view", RebuildView(views, nil))
	return r
}

func TestDetailReturnsOrder(t *testing.T) {
	orderID := uuid.New()
	views := &stubViewService{
		get: func(ctx context.Context, id uuid.UUID) (*models.OrderView, error) {
			if id != orderID {
				t.Fatalf("unexpected order id %s", id)
			}
			return &models.OrderView{
				OrderID:     orderID,
				State:       enums.OrderStateApproved,
				TotalAmount: decimal.RequireFromString("31.00"),
			}, nil
		},
	}
	router := testRouter(views, &stubCommandService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Data models.OrderView `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data.OrderID != orderID {
		t.Fatalf("order id = %s, want %s", body.Data.OrderID, orderID)
	}
}

func TestDetailRejectsMalformedID(t *testing.T) {
	router := testRouter(&stubViewService{}, &stubCommandService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDetailUnknownOrder(t *testing.T) {
	router := testRouter(&stubViewService{}, &stubCommandService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+uuid.NewString(), nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListByConsumerForwardsPagination(t *testing.T) {
	consumerID := uuid.New()
	var got pagination.Params
	views := &stubViewService{
		listByConsumer: func(ctx context.Context, id uuid.UUID, params pagination.Params) (*orderview.OrderPage, error) {
			if id != consumerID {
				t.Fatalf("unexpected consumer id %s", id)
			}
			got = params
			return &orderview.OrderPage{NextCursor: "next"}, nil
		},
	}
	router := testRouter(views, &stubCommandService{})

	rec := httptest.NewRecorder()
	target := "/consumers/" + consumerID.String() + "/orders?limit=5&cursor=abc"
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.Limit != 5 || got.Cursor != "abc" {
		t.Fatalf("params = %+v", got)
	}
}

func TestListByConsumerRejectsOversizedLimit(t *testing.T) {
	router := testRouter(&stubViewService{}, &stubCommandService{})

	rec := httptest.NewRecorder()
	target := "/consumers/" + uuid.NewString() + "/orders?limit=5000"
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCancelRequiresReason(t *testing.T) {
	commands := &stubCommandService{}
	router := testRouter(&stubViewService{}, commands)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/"+uuid.NewString()+"/cancel", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(commands.calls) != 0 {
		t.Fatalf("command applied despite invalid body")
	}
}

func TestCancelAppliesCommand(t *testing.T) {
	orderID := uuid.New()
	commands := &stubCommandService{}
	router := testRouter(&stubViewService{}, commands)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/cancel", strings.NewReader(`{"reason":"changed my mind"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(commands.calls) != 1 || commands.calls[0].name != "cancel" {
		t.Fatalf("calls = %+v", commands.calls)
	}
	if commands.calls[0].orderID != orderID || commands.calls[0].arg != "changed my mind" {
		t.Fatalf("call = %+v", commands.calls[0])
	}
}

func TestTransitionMapsStateConflict(t *testing.T) {
	commands := &stubCommandService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in an acceptable state")}
	router := testRouter(&stubViewService{}, commands)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/"+uuid.NewString()+"/accept", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestApproveParsesCourier(t *testing.T) {
	orderID := uuid.New()
	courierID := uuid.New()
	commands := &stubCommandService{}
	router := testRouter(&stubViewService{}, commands)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/approve", strings.NewReader(`{"courierId":"`+courierID.String()+`"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(commands.calls) != 1 || commands.calls[0].arg != courierID.String() {
		t.Fatalf("calls = %+v", commands.calls)
	}
}

func TestRebuildView(t *testing.T) {
	orderID := uuid.New()
	var rebuilt uuid.UUID
	views := &stubViewService{
		rebuild: func(ctx context.Context, id uuid.UUID) error {
			rebuilt = id
			return nil
		},
	}
	router := testRouter(views, &stubCommandService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/rebuild-view", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rebuilt != orderID {
		t.Fatalf("rebuilt = %s, want %s", rebuilt, orderID)
	}
}
