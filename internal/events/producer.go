package events

import (
	"encoding/json"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

type Producer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewProducer(brokers string, logger *logrus.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}

	return &Producer{
		producer: producer,
		logger:   logger,
	}, nil
}

// Publish marshals the event and sends it keyed by the order id, so every
// event for one order lands on the same partition.
func (p *Producer) Publish(topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.Key()),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"topic":      topic,
			"event_type": event.Type(),
			"order_id":   event.Key(),
		}).Error("Failed to send event to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":      topic,
		"partition":  partition,
		"offset":     offset,
		"event_type": event.Type(),
		"order_id":   event.Key(),
	}).Info("Event published")

	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
