package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/geologic-api/internal/core/observability"
)

type processFunc func(context.Context, *sarama.ConsumerMessage) error

// claimHandler applies invalidation events partition by partition. An offset
// is marked only after its event was applied, so a failed invalidation is
// redelivered after the session restarts.
type claimHandler struct {
	apply  processFunc
	logger *slog.Logger
}

func (h *claimHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.DebugContext(sess.Context(), "invalidation partitions assigned",
		"claims", sess.Claims(), "generation", sess.GenerationID())
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.apply(ctx, msg); err != nil {
				obs.IncKafkaConsumerError("apply")
				return fmt.Errorf("apply invalidation (partition=%d offset=%d): %w",
					msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
