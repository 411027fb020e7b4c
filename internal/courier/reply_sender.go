package courier

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/internal/saga"
	"github.com/mealmesh/ordering-backend/pkg/enums"
)

// PubSubReplySender publishes courier replies on the saga-replies topic,
// keyed by saga id so replies for one saga stay ordered.
type PubSubReplySender struct {
	publisher *pubsub.Publisher
}

// NewPubSubReplySender wraps the saga-replies publisher.
func NewPubSubReplySender(publisher *pubsub.Publisher) (*PubSubReplySender, error) {
	if publisher == nil {
		return nil, errors.New("saga replies publisher is required")
	}
	publisher.EnableMessageOrdering = true
	return &PubSubReplySender{publisher: publisher}, nil
}

// Send publishes one reply and waits for the broker acknowledgment.
func (s *PubSubReplySender) Send(ctx context.Context, replyType enums.ReplyType, reply saga.CourierReply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	result := s.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"reply_type": string(replyType),
			"event_id":   uuid.NewString(),
			"saga_id":    reply.SagaID.String(),
		},
		OrderingKey: reply.SagaID.String(),
	})
	_, err = result.Get(ctx)
	return err
}
