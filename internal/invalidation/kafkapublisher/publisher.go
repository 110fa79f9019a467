// Package kafkapublisher emits cache invalidation events for archive paths
// that were rewritten or deleted.
package kafkapublisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/cutout-service/internal/invalidation"
)

type Publisher struct {
	topic  string
	source string
	prod   sarama.SyncProducer
}

func saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	return cfg
}

// New connects a synchronous producer. source tags every event.
func New(brokers []string, topic, source string) (*Publisher, error) {
	prod, err := sarama.NewSyncProducer(brokers, saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("kafkapublisher: create producer: %w", err)
	}
	return NewWithProducer(prod, topic, source), nil
}

func NewWithProducer(prod sarama.SyncProducer, topic, source string) *Publisher {
	return &Publisher{topic: topic, source: source, prod: prod}
}

// Publish sends one event keyed by path, so events for the same path stay on
// one partition in order.
func (p *Publisher) Publish(op, path string) (partition int32, offset int64, err error) {
	ev := invalidation.Event{
		Version: 1,
		Op:      op,
		Path:    path,
		TS:      time.Now().UTC(),
		Source:  p.source,
	}
	if err := ev.Validate(); err != nil {
		return 0, 0, fmt.Errorf("kafkapublisher: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, fmt.Errorf("kafkapublisher: marshal: %w", err)
	}
	partition, offset, err = p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(path),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("kafkapublisher: send: %w", err)
	}
	return partition, offset, nil
}

func (p *Publisher) Close() error {
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("kafkapublisher: close producer: %w", err)
	}
	return nil
}
