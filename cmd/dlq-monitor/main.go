package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/quickplate/fulfillment/internal/config"
	"github.com/quickplate/fulfillment/internal/events"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load("dlqmonitor")

	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(strings.Split(cfg.KafkaBrokers, ","),
		"dlq-monitor", saramaConfig)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ consumer")
	}
	defer consumer.Close()

	topics := []string{
		events.DLQTopic(events.OrderEventsTopic),
		events.DLQTopic(events.RestaurantEventsTopic),
		events.DLQTopic(events.DeliveryEventsTopic),
	}

	handler := &dlqHandler{
		logger: logger,
		counts: make(map[string]int),
	}

	// REPLAY=true turns the monitor into a reprocessor: every dead letter is
	// published back to its original topic. Run it once after the underlying
	// fault is fixed, then turn it off.
	if os.Getenv("REPLAY") == "true" {
		producerConfig := sarama.NewConfig()
		producerConfig.Producer.RequiredAcks = sarama.WaitForAll
		producerConfig.Producer.Retry.Max = 5
		producerConfig.Producer.Return.Successes = true
		producerConfig.Version = sarama.V2_6_0_0

		producer, err := sarama.NewSyncProducer(strings.Split(cfg.KafkaBrokers, ","), producerConfig)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create replay producer")
		}
		defer producer.Close()
		handler.replayProducer = producer
		logger.Warn("Replay mode enabled: dead letters will be republished")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			if err := consumer.Consume(ctx, topics, handler); err != nil {
				logger.WithError(err).Error("Error consuming from DLQ")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	// Hourly summary so dead letters surface even when nobody is tailing
	// the logs.
	scheduler := cron.New()
	scheduler.AddFunc("@hourly", handler.logSummary)
	scheduler.Start()
	defer scheduler.Stop()

	logger.WithField("topics", topics).Info("DLQ monitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	handler.logSummary()
	logger.Info("Shutting down DLQ monitor...")
}

type dlqHandler struct {
	logger         *logrus.Logger
	replayProducer sarama.SyncProducer
	mutex          sync.Mutex
	counts         map[string]int
}

func (h *dlqHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *dlqHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *dlqHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		metadata := events.ExtractDLQMetadata(message)

		h.mutex.Lock()
		h.counts[metadata.OriginalTopic]++
		h.mutex.Unlock()

		fields := logrus.Fields{
			"dlq_topic":      message.Topic,
			"original_topic": metadata.OriginalTopic,
			"order_key":      string(message.Key),
			"error":          metadata.ErrorMessage,
			"failed_at":      metadata.FailedAt,
		}

		// The payload is opaque to the monitor, but the event type and
		// order id are worth surfacing when they parse.
		var envelope struct {
			EventType string `json:"event_type"`
			OrderID   string `json:"order_id"`
		}
		if err := json.Unmarshal(message.Value, &envelope); err == nil {
			fields["event_type"] = envelope.EventType
			fields["order_id"] = envelope.OrderID
		}

		h.logger.WithFields(fields).Warn("Dead letter received")

		if h.replayProducer != nil {
			if err := events.Replay(h.replayProducer, message); err != nil {
				h.logger.WithError(err).WithField("order_key", string(message.Key)).
					Error("Failed to replay dead letter")
			} else {
				h.logger.WithField("original_topic", metadata.OriginalTopic).
					Info("Dead letter replayed")
			}
		}
		session.MarkMessage(message, "")
	}
	return nil
}

func (h *dlqHandler) logSummary() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if len(h.counts) == 0 {
		h.logger.Info("DLQ summary: no dead letters")
		return
	}

	fields := logrus.Fields{}
	for topic, count := range h.counts {
		fields[topic] = count
	}
	h.logger.WithFields(fields).Warn("DLQ summary")
}
