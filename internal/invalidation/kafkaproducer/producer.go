// Package kafkaproducer publishes table-change events for the invalidation consumer.
package kafkaproducer

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/mohammed-shakir/geologic-api/internal/invalidation"
)

type Publisher struct {
	prod  sarama.SyncProducer
	topic string
}

// New connects a synchronous producer to brokers.
func New(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafkaproducer: no brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("producer create: %w", err)
	}
	return NewWithProducer(prod, topic), nil
}

func NewWithProducer(prod sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{prod: prod, topic: topic}
}

// Publish validates ev and sends it keyed by table, so events for one table
// stay on one partition and are consumed in order.
func (p *Publisher) Publish(ev invalidation.Event) (int32, int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, 0, fmt.Errorf("invalid event: %w", err)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, fmt.Errorf("encode event: %w", err)
	}
	part, off, err := p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Table),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("send message: %w", err)
	}
	return part, off, nil
}

func (p *Publisher) Close() error { return p.prod.Close() }
