package saga

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/pkg/enums"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/outbox/idempotency"
)

const replyConsumerName = "saga-replies"

// Message attributes the courier worker stamps on every reply.
const (
	attrReplyType = "reply_type"
	attrEventID   = "event_id"
)

// replyHandler resumes parked sagas.
type replyHandler interface {
	HandleCourierReply(ctx context.Context, replyType enums.ReplyType, reply CourierReply) error
}

// ReplyConsumer pulls courier replies off the saga-replies subscription and
// feeds them to the orchestrator. Duplicates are dropped via the shared
// idempotency guard; malformed messages are acked so they cannot wedge the
// subscription.
type ReplyConsumer struct {
	handler      replyHandler
	idempotency  *idempotency.Manager
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewReplyConsumer wires the courier reply consumer.
func NewReplyConsumer(handler replyHandler, guard *idempotency.Manager, subscription *pubsub.Subscriber, logg *logger.Logger) (*ReplyConsumer, error) {
	if handler == nil {
		return nil, errors.New("reply handler is required")
	}
	if guard == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if subscription == nil {
		return nil, errors.New("saga replies subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &ReplyConsumer{
		handler:      handler,
		idempotency:  guard,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run processes replies until the context is canceled.
func (c *ReplyConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process returns true when the message should be acked.
func (c *ReplyConsumer) process(ctx context.Context, msg *pubsub.Message) bool {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"reply_type": msg.Attributes[attrReplyType],
	})

	replyType, err := enums.ParseReplyType(msg.Attributes[attrReplyType])
	if err != nil {
		c.logg.Warn(logCtx, "dropping reply with unknown type")
		return true
	}

	var reply CourierReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		c.logg.Error(logCtx, "dropping undecodable courier reply", err)
		return true
	}
	if reply.SagaID == uuid.Nil {
		c.logg.Warn(logCtx, "dropping courier reply without saga id")
		return true
	}
	logCtx = c.logg.WithSagaID(logCtx, reply.SagaID.String())

	eventID, err := uuid.Parse(msg.Attributes[attrEventID])
	if err != nil {
		// No dedup key; process anyway, the orchestrator tolerates replays.
		c.logg.Warn(logCtx, "courier reply missing event id")
		return c.handle(logCtx, replyType, reply)
	}

	alreadyProcessed, err := c.idempotency.CheckAndMarkProcessed(ctx, replyConsumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if alreadyProcessed {
		c.logg.Info(logCtx, "skipping duplicate courier reply")
		return true
	}

	if ok := c.handle(logCtx, replyType, reply); !ok {
		if err := c.idempotency.Delete(ctx, replyConsumerName, eventID); err != nil {
			c.logg.Error(logCtx, "failed to clear idempotency mark", err)
		}
		return false
	}
	return true
}

func (c *ReplyConsumer) handle(ctx context.Context, replyType enums.ReplyType, reply CourierReply) bool {
	if err := c.handler.HandleCourierReply(ctx, replyType, reply); err != nil {
		c.logg.Error(ctx, "courier reply handling failed", err)
		return false
	}
	return true
}
