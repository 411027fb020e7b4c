package sagas

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/api/responses"
	"github.com/mealmesh/ordering-backend/api/validators"
	"github.com/mealmesh/ordering-backend/internal/saga"
	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/types"
)

// Orchestrator starts order-creation sagas and reports their progress.
type Orchestrator interface {
	Start(ctx context.Context, input saga.StartInput) (*models.SagaInstance, error)
	Status(ctx context.Context, sagaID uuid.UUID) (*models.SagaInstance, error)
}

type createOrderRequest struct {
	ConsumerID      string           `json:"consumerId" validate:"required,uuid"`
	RestaurantID    string           `json:"restaurantId" validate:"required,uuid"`
	LineItems       []types.LineItem `json:"lineItems" validate:"required,min=1,dive"`
	DeliveryAddress types.Address    `json:"deliveryAddress" validate:"required"`
}

type sagaResponse struct {
	SagaID                 string     `json:"sagaId"`
	Status                 string     `json:"status"`
	CurrentStep            string     `json:"currentStep"`
	OrderID                *uuid.UUID `json:"orderId,omitempty"`
	CourierID              *uuid.UUID `json:"courierId,omitempty"`
	OrderTotal             string     `json:"orderTotal"`
	FailureReason          *string    `json:"failureReason,omitempty"`
	FailedStep             *string    `json:"failedStep,omitempty"`
	CompensationIncomplete bool       `json:"compensationIncomplete"`
	ReplyDeadline          *time.Time `json:"replyDeadline,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

func toSagaResponse(instance *models.SagaInstance) sagaResponse {
	resp := sagaResponse{
		SagaID:                 instance.ID.String(),
		Status:                 string(instance.Status),
		CurrentStep:            string(instance.CurrentStep),
		OrderID:                instance.OrderID,
		CourierID:              instance.CourierID,
		OrderTotal:             instance.OrderTotal.StringFixed(2),
		FailureReason:          instance.FailureReason,
		CompensationIncomplete: instance.CompensationIncomplete,
		ReplyDeadline:          instance.ReplyDeadline,
		CreatedAt:              instance.CreatedAt,
		UpdatedAt:              instance.UpdatedAt,
	}
	if instance.FailedStep != nil {
		step := string(*instance.FailedStep)
		resp.FailedStep = &step
	}
	return resp
}

// CreateOrder runs the synchronous leg of the order-creation saga and returns
// the saga instance. When a courier must be assigned asynchronously the
// response reports AWAITING_REPLY; callers poll the status endpoint.
func CreateOrder(orchestrator Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		consumerID, err := validators.ParseUUID(req.ConsumerID, "consumerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		restaurantID, err := validators.ParseUUID(req.RestaurantID, "restaurantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		instance, err := orchestrator.Start(r.Context(), saga.StartInput{
			ConsumerID:      consumerID,
			RestaurantID:    restaurantID,
			LineItems:       req.LineItems,
			DeliveryAddress: req.DeliveryAddress,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, toSagaResponse(instance))
	}
}

// Status returns the current state of one saga instance.
func Status(orchestrator Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sagaID, err := validators.ParseUUID(chi.URLParam(r, "sagaId"), "sagaId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		instance, err := orchestrator.Status(r.Context(), sagaID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSagaResponse(instance))
	}
}
