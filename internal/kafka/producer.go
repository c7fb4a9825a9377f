package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Producer publishes tracking-event payloads to the stream.
type Producer interface {
	Publish(topic string, key string, message []byte) error
	Close() error
}

type SaramaProducer struct {
	producer sarama.SyncProducer
}

func NewSaramaProducer(brokers []string) (*SaramaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Timeout = 5 * time.Second
	prod, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create sarama producer: %w", err)
	}
	return &SaramaProducer{producer: prod}, nil
}

// Publish keys messages by order id so per-order events stay in partition
// order.
func (p *SaramaProducer) Publish(topic string, key string, message []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(message),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send message to topic %s: %w", topic, err)
	}
	return nil
}

func (p *SaramaProducer) Close() error {
	return p.producer.Close()
}
