package repository

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"
)

type KafkaRepository struct {
	Writer      *kafka.Writer
	OrdersTopic string
	DLQTopic    string
}

func NewKafkaRepository(brokers []string, ordersTopic, dlqTopic string) *KafkaRepository {
	return &KafkaRepository{
		Writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		},
		OrdersTopic: ordersTopic,
		DLQTopic:    dlqTopic,
	}
}

// PublishOrderFulfilled emits a fulfilled-order event after the order row
// committed. Keyed by buyer so per-buyer ordering is preserved downstream.
func (r *KafkaRepository) PublishOrderFulfilled(ctx context.Context, order *VoucherOrder) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return r.Writer.WriteMessages(ctx, kafka.Message{
		Topic: r.OrdersTopic,
		Key:   []byte(strconv.FormatInt(order.BuyerID, 10)),
		Value: payload,
	})
}

// PublishToDLQ parks an unprocessable queue entry with the failure reason
// attached as a header.
func (r *KafkaRepository) PublishToDLQ(ctx context.Context, key, value []byte, reason string) error {
	return r.Writer.WriteMessages(ctx, kafka.Message{
		Topic: r.DLQTopic,
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "error_reason", Value: []byte(reason)},
		},
	})
}

func (r *KafkaRepository) Close() error {
	return r.Writer.Close()
}
