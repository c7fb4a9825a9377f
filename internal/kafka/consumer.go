package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"

	"freightdesk/internal/models"
)

// FeedHandler consumes the tracking stream and logs each event. It stands in
// for downstream consumers (customer notifications, BI exports) during
// development.
type FeedHandler struct {
	Log *slog.Logger
}

func (FeedHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (FeedHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h FeedHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev models.TrackingEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			h.Log.Warn("skipping malformed tracking event",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			session.MarkMessage(msg, "")
			continue
		}
		h.Log.Info("tracking event received",
			"order_id", ev.OrderID, "status", ev.Status, "description", ev.Description)
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartFeedConsumer runs the consumer group loop until the context is done.
func StartFeedConsumer(ctx context.Context, brokers []string, groupID string, topics []string, log *slog.Logger) error {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := group.Close(); err != nil {
			log.Error("closing consumer group", "error", err)
		}
	}()

	handler := FeedHandler{Log: log}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := group.Consume(ctx, topics, handler); err != nil {
				log.Error("consumer group error", "error", err)
			}
		}
	}
}
