package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/api/responses"
	"github.com/mealmesh/ordering-backend/api/validators"
	"github.com/mealmesh/ordering-backend/internal/orderview"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/pagination"
)

// ViewService reads the denormalized order pages and rebuilds single views.
type ViewService interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderView, error)
	ListByConsumer(ctx context.Context, consumerID uuid.UUID, params pagination.Params) (*orderview.OrderPage, error)
	ListByRestaurant(ctx context.Context, restaurantID uuid.UUID, params pagination.Params) (*orderview.OrderPage, error)
	ListByCourier(ctx context.Context, courierID uuid.UUID, params pagination.Params) (*orderview.OrderPage, error)
	Rebuild(ctx context.Context, orderID uuid.UUID) error
}

// CommandService applies lifecycle commands against the event-sourced order.
type CommandService interface {
	Approve(ctx context.Context, orderID, courierID uuid.UUID) error
	Reject(ctx context.Context, orderID uuid.UUID, reason string) error
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) error
	Accept(ctx context.Context, orderID uuid.UUID) error
	StartPreparing(ctx context.Context, orderID uuid.UUID) error
	MarkReadyForPickup(ctx context.Context, orderID uuid.UUID) error
	MarkPickedUp(ctx context.Context, orderID uuid.UUID) error
	MarkDelivered(ctx context.Context, orderID uuid.UUID) error
}

// Detail returns one order from the read model.
func Detail(views ViewService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := views.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// ListByConsumer pages a consumer's orders, newest first.
func ListByConsumer(views ViewService, logg *logger.Logger) http.HandlerFunc {
	return listHandler(logg, "consumerId", func(ctx context.Context, id uuid.UUID, params pagination.Params) (*orderview.OrderPage, error) {
		return views.ListByConsumer(ctx, id, params)
	})
}

// ListByRestaurant pages a restaurant's orders, newest first.
func ListByRestaurant(views ViewService, logg *logger.Logger) http.HandlerFunc {
	return listHandler(logg, "restaurantId", func(ctx context.Context, id uuid.UUID, params pagination.Params) (*orderview.OrderPage, error) {
		return views.ListByRestaurant(ctx, id, params)
	})
}

// ListByCourier pages a courier's assigned orders, newest first.
func ListByCourier(views ViewService, logg *logger.Logger) http.HandlerFunc {
	return listHandler(logg, "courierId", func(ctx context.Context, id uuid.UUID, params pagination.Params) (*orderview.OrderPage, error) {
		return views.ListByCourier(ctx, id, params)
	})
}

func listHandler(logg *logger.Logger, param string, list func(context.Context, uuid.UUID, pagination.Params) (*orderview.OrderPage, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUID(chi.URLParam(r, param), param)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		page, err := list(r.Context(), id, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

type approveRequest struct {
	CourierID string `json:"courierId" validate:"required,uuid"`
}

// Approve transitions an approval-pending order to approved. Normal flow runs
// this through the saga; the endpoint exists for manual reconciliation.
func Approve(commands CommandService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req approveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		courierID, err := validators.ParseUUID(req.CourierID, "courierId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := commands.Approve(r.Context(), orderID, courierID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"orderId": orderID.String(), "state": "APPROVED"})
	}
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Reject moves an approval-pending order to the rejected terminal state.
func Reject(commands CommandService, logg *logger.Logger) http.HandlerFunc {
	return reasonHandler(logg, func(ctx context.Context, orderID uuid.UUID, reason string) error {
		return commands.Reject(ctx, orderID, reason)
	}, "REJECTED")
}

// Cancel lets a consumer withdraw an approved order before the restaurant accepts it.
func Cancel(commands CommandService, logg *logger.Logger) http.HandlerFunc {
	return reasonHandler(logg, func(ctx context.Context, orderID uuid.UUID, reason string) error {
		return commands.Cancel(ctx, orderID, reason)
	}, "CANCELLED")
}

func reasonHandler(logg *logger.Logger, apply func(context.Context, uuid.UUID, string) error, state string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req reasonRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := apply(r.Context(), orderID, req.Reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"orderId": orderID.String(), "state": state})
	}
}

// Accept records that the restaurant has taken the order.
func Accept(commands CommandService, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(logg, func(ctx context.Context, orderID uuid.UUID) error {
		return commands.Accept(ctx, orderID)
	}, "ACCEPTED")
}

// StartPreparing records that the kitchen has started on the order.
func StartPreparing(commands CommandService, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(logg, func(ctx context.Context, orderID uuid.UUID) error {
		return commands.StartPreparing(ctx, orderID)
	}, "PREPARING")
}

// MarkReadyForPickup records that the order is waiting for its courier.
func MarkReadyForPickup(commands CommandService, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(logg, func(ctx context.Context, orderID uuid.UUID) error {
		return commands.MarkReadyForPickup(ctx, orderID)
	}, "READY_FOR_PICKUP")
}

// MarkPickedUp records the courier collecting the order.
func MarkPickedUp(commands CommandService, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(logg, func(ctx context.Context, orderID uuid.UUID) error {
		return commands.MarkPickedUp(ctx, orderID)
	}, "PICKED_UP")
}

// MarkDelivered records the terminal delivery hand-off.
func MarkDelivered(commands CommandService, logg *logger.Logger) http.HandlerFunc {
	return transitionHandler(logg, func(ctx context.Context, orderID uuid.UUID) error {
		return commands.MarkDelivered(ctx, orderID)
	}, "DELIVERED")
}

func transitionHandler(logg *logger.Logger, apply func(context.Context, uuid.UUID) error, state string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := apply(r.Context(), orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"orderId": orderID.String(), "state": state})
	}
}

// RebuildView deletes and replays one order's read model from its event history.
func RebuildView(views ViewService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := views.Rebuild(r.Context(), orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"orderId": orderID.String(), "status": "rebuilt"})
	}
}
