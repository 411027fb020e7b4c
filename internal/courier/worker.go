package courier

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/internal/saga"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/outbox"
	"github.com/mealmesh/ordering-backend/pkg/outbox/idempotency"
)

const workerConsumerName = "courier-commands"

// Attributes stamped by the outbox relay on every delivered command.
const (
	attrEventType = "event_type"
	attrEventID   = "event_id"
)

// ReplySender delivers courier replies back to the saga.
type ReplySender interface {
	Send(ctx context.Context, replyType enums.ReplyType, reply saga.CourierReply) error
}

// Worker consumes courier commands and answers with assignment replies.
// Commands arrive at-least-once; the idempotency guard keeps a redelivered
// assign command from burning a second courier.
type Worker struct {
	fleet        Fleet
	replies      ReplySender
	idempotency  *idempotency.Manager
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewWorker wires the courier command worker.
func NewWorker(fleet Fleet, replies ReplySender, guard *idempotency.Manager, subscription *pubsub.Subscriber, logg *logger.Logger) (*Worker, error) {
	if fleet == nil {
		return nil, errors.New("fleet is required")
	}
	if replies == nil {
		return nil, errors.New("reply sender is required")
	}
	if guard == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if subscription == nil {
		return nil, errors.New("courier commands subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Worker{
		fleet:        fleet,
		replies:      replies,
		idempotency:  guard,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run processes commands until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	return w.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if w.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process returns true when the message should be acked.
func (w *Worker) process(ctx context.Context, msg *pubsub.Message) bool {
	logCtx := w.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": msg.Attributes[attrEventType],
	})

	eventType, err := enums.ParseEventType(msg.Attributes[attrEventType])
	if err != nil {
		w.logg.Warn(logCtx, "dropping command with unknown event type")
		return true
	}
	if eventType != enums.EventAssignCourier && eventType != enums.EventReleaseCourier {
		w.logg.Info(logCtx, "skipping non-courier event")
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		w.logg.Error(logCtx, "dropping undecodable command envelope", err)
		return true
	}
	if envelope.SagaID == nil {
		w.logg.Warn(logCtx, "dropping courier command without saga id")
		return true
	}
	logCtx = w.logg.WithSagaID(logCtx, envelope.SagaID.String())

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		w.logg.Warn(logCtx, "dropping courier command without event id")
		return true
	}
	alreadyProcessed, err := w.idempotency.CheckAndMarkProcessed(ctx, workerConsumerName, eventID)
	if err != nil {
		w.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if alreadyProcessed {
		w.logg.Info(logCtx, "skipping duplicate courier command")
		return true
	}

	var ok bool
	switch eventType {
	case enums.EventAssignCourier:
		ok = w.handleAssign(logCtx, *envelope.SagaID, envelope.Data)
	case enums.EventReleaseCourier:
		ok = w.handleRelease(logCtx, envelope.Data)
	}
	if !ok {
		if err := w.idempotency.Delete(ctx, workerConsumerName, eventID); err != nil {
			w.logg.Error(logCtx, "failed to clear idempotency mark", err)
		}
		return false
	}
	return true
}

func (w *Worker) handleAssign(ctx context.Context, sagaID uuid.UUID, data json.RawMessage) bool {
	var command saga.AssignCourierCommand
	if err := json.Unmarshal(data, &command); err != nil {
		w.logg.Error(ctx, "dropping undecodable assign command", err)
		return true
	}

	courierID, err := w.fleet.Assign(ctx, command)
	if err != nil {
		w.logg.Warn(w.logg.WithOrderID(ctx, command.OrderID.String()), "courier assignment failed")
		return w.send(ctx, enums.ReplyCourierAssignmentFailed, saga.CourierReply{
			SagaID:  sagaID,
			OrderID: command.OrderID,
			Reason:  err.Error(),
		})
	}

	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"order_id":   command.OrderID.String(),
		"courier_id": courierID.String(),
	}), "courier assigned")
	return w.send(ctx, enums.ReplyCourierAssigned, saga.CourierReply{
		SagaID:    sagaID,
		OrderID:   command.OrderID,
		CourierID: &courierID,
	})
}

func (w *Worker) handleRelease(ctx context.Context, data json.RawMessage) bool {
	var command saga.ReleaseCourierCommand
	if err := json.Unmarshal(data, &command); err != nil {
		w.logg.Error(ctx, "dropping undecodable release command", err)
		return true
	}
	if err := w.fleet.Release(ctx, command.CourierID); err != nil {
		w.logg.Error(ctx, "courier release failed", err)
		return false
	}
	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"order_id":   command.OrderID.String(),
		"courier_id": command.CourierID.String(),
	}), "courier released")
	return true
}

func (w *Worker) send(ctx context.Context, replyType enums.ReplyType, reply saga.CourierReply) bool {
	if err := w.replies.Send(ctx, replyType, reply); err != nil {
		w.logg.Error(ctx, "failed to publish courier reply", err)
		return false
	}
	return true
}
