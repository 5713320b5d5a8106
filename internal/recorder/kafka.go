package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

// KafkaConfig holds configuration for the Kafka audit producer.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaRecorder produces audit records to Kafka, keyed by client
// identifier so one client's attempts land in partition order.
type KafkaRecorder struct {
	config   KafkaConfig
	producer *kafka.Producer
}

// NewKafkaRecorder creates a KafkaRecorder with the given configuration.
func NewKafkaRecorder(cfg KafkaConfig) *KafkaRecorder {
	if cfg.Acks == "" {
		cfg.Acks = "all"
	}
	return &KafkaRecorder{config: cfg}
}

func (s *KafkaRecorder) Name() string { return "kafka" }

func (s *KafkaRecorder) Start(ctx context.Context) error {
	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(s.config.Brokers, ","),
		"acks":              s.config.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}

	if s.config.Compression != "" {
		configMap["compression.type"] = s.config.Compression
	}

	// Configure SASL if specified
	if s.config.SASLMechanism != "" {
		configMap["security.protocol"] = "SASL_SSL"
		configMap["sasl.mechanism"] = s.config.SASLMechanism
		if s.config.SASLUser != "" {
			configMap["sasl.username"] = s.config.SASLUser
		}
		if s.config.SASLPassword != "" {
			configMap["sasl.password"] = s.config.SASLPassword
		}
	}

	// Configure TLS if a CA path is provided
	if s.config.TLSCAPath != "" {
		if s.config.SASLMechanism == "" {
			configMap["security.protocol"] = "SSL"
		}
		configMap["ssl.ca.location"] = s.config.TLSCAPath
	}

	if s.config.TLSSkipVerify {
		configMap["ssl.endpoint.identification.algorithm"] = "none"
	}

	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	s.producer = producer

	// Drain delivery reports in the background
	go s.handleDeliveryReports(ctx)

	return nil
}

func (s *KafkaRecorder) Append(rec AttemptRecord) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(rec.ClientID),
		Value: value,
	}

	return s.producer.Produce(msg, nil)
}

func (s *KafkaRecorder) handleDeliveryReports(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.producer.Events():
			if !ok {
				return
			}
			if m, isMsg := e.(*kafka.Message); isMsg && m.TopicPartition.Error != nil {
				logrus.WithError(m.TopicPartition.Error).Warn("kafka: delivery failed")
			}
		}
	}
}

func (s *KafkaRecorder) Close() error {
	if s.producer == nil {
		return nil
	}
	// Wait up to 5s for in-flight messages
	remaining := s.producer.Flush(5000)
	if remaining > 0 {
		logrus.Warnf("kafka: %d audit records unflushed at close", remaining)
	}
	s.producer.Close()
	return nil
}
