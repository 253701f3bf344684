package events

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Handler processes one decoded event. Handlers must be idempotent: the
// broker delivers at least once, and the consumer acknowledges a message
// whether or not the handler succeeded.
type Handler interface {
	HandleEvent(event Event) error
}

// Consumer drives one consumer group over one or more topics. A message is
// always marked after processing; failures are logged and sent to the topic's
// dead-letter topic instead of being redelivered, so one bad event can never
// wedge a partition.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	handler       Handler
	logger        *logrus.Logger
	topics        []string
}

func NewConsumer(brokers, groupID string, topics []string, handler Handler, logger *logrus.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, config)
	if err != nil {
		return nil, err
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), producerConfig)
	if err != nil {
		consumerGroup.Close()
		return nil, err
	}

	return &Consumer{
		consumerGroup: consumerGroup,
		producer:      producer,
		handler:       handler,
		logger:        logger,
		topics:        topics,
	}, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	handler := &groupHandler{
		handler:  c.handler,
		producer: c.producer,
		logger:   c.logger,
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				c.logger.WithError(err).Error("Error consuming from Kafka")
				return err
			}
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close DLQ producer")
	}
	return c.consumerGroup.Close()
}

type groupHandler struct {
	handler  Handler
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			h.logger.WithFields(logrus.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
				"key":       string(message.Key),
			}).Info("Received Kafka message")

			h.handleMessage(message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			h.logger.Info("Consumer group session context cancelled")
			return nil
		}
	}
}

func (h *groupHandler) handleMessage(message *sarama.ConsumerMessage) {
	event, err := Decode(message.Value)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"topic":   message.Topic,
			"key":     string(message.Key),
			"payload": string(message.Value),
		}).Error("Failed to decode event")
		h.sendToDLQ(message, err)
		return
	}

	if unknown, ok := event.(*Unknown); ok {
		h.logger.WithFields(logrus.Fields{
			"topic":      message.Topic,
			"event_type": unknown.EventType,
			"order_id":   unknown.OrderID,
		}).Warn("Ignoring unknown event type")
		return
	}

	if err := h.handler.HandleEvent(event); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"topic":      message.Topic,
			"event_type": event.Type(),
			"order_id":   event.Key(),
			"payload":    string(message.Value),
		}).Error("Failed to handle event")
		h.sendToDLQ(message, err)
	}
}

func (h *groupHandler) sendToDLQ(message *sarama.ConsumerMessage, processingError error) {
	if err := SendToDLQ(h.producer, message, processingError); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"topic": message.Topic,
			"key":   string(message.Key),
		}).Error("Failed to send message to DLQ")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"dlq_topic": DLQTopic(message.Topic),
		"key":       string(message.Key),
		"error":     processingError.Error(),
	}).Warn("Message sent to dead letter topic")
}
