package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// DLQMetadata travels in the "metadata" header of every dead letter so the
// monitor can report on failures without parsing the payload.
type DLQMetadata struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
}

// SendToDLQ forwards a message the consumer could not process to the topic's
// dead-letter topic, preserving key and payload and attaching failure
// metadata as headers.
func SendToDLQ(producer sarama.SyncProducer, message *sarama.ConsumerMessage, processingError error) error {
	metadata := DLQMetadata{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		ErrorMessage:      processingError.Error(),
		FailedAt:          time.Now(),
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: DLQTopic(message.Topic),
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadataBytes},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("failure_time"), Value: []byte(metadata.FailedAt.Format(time.RFC3339))},
		},
	}

	if _, _, err := producer.SendMessage(dlqMessage); err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	return nil
}

// Replay publishes a dead letter back onto its original topic, preserving
// the partition key so ordering against newer events for the same order
// still holds. The DLQ headers are dropped; a replayed message is
// indistinguishable from a fresh one.
func Replay(producer sarama.SyncProducer, message *sarama.ConsumerMessage) error {
	metadata := ExtractDLQMetadata(message)
	if metadata.OriginalTopic == "" {
		return fmt.Errorf("dead letter has no original_topic metadata")
	}

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic: metadata.OriginalTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
	})
	if err != nil {
		return fmt.Errorf("failed to replay dead letter: %w", err)
	}
	return nil
}

// ExtractDLQMetadata reads the metadata header off a dead letter. A missing
// or garbled header yields zero-value metadata, never an error.
func ExtractDLQMetadata(message *sarama.ConsumerMessage) DLQMetadata {
	var metadata DLQMetadata
	for _, header := range message.Headers {
		if string(header.Key) == "metadata" {
			_ = json.Unmarshal(header.Value, &metadata)
			break
		}
	}
	return metadata
}
