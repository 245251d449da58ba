package kafka

import (
	"strconv"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/MicroNet-Diagnostics/internal/config"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
}

// Conn abstracts kafka.Conn for testing.
type Conn interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates the worker's topics on first deployment.
type TopicManager struct {
	conn   Conn
	logger logging.Logger
}

// NewTopicManager dials the first broker.
func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessageQueueError, "failed to dial kafka").WithDetail(brokers[0])
	}
	return NewTopicManagerWithConn(conn, logger), nil
}

// NewTopicManagerWithConn wraps an existing connection.
func NewTopicManagerWithConn(conn Conn, logger logging.Logger) *TopicManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &TopicManager{conn: conn, logger: logger}
}

// TopicExists reports whether name has at least one partition.
func (m *TopicManager) TopicExists(name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		if isUnknownTopic(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeMessageQueueError, "failed to read partitions").WithDetail(name)
	}
	return len(partitions) > 0, nil
}

// EnsureTopics creates every missing topic in specs.
func (m *TopicManager) EnsureTopics(specs []TopicSpec) error {
	for _, spec := range specs {
		if err := validateSpec(spec); err != nil {
			return err
		}
		exists, err := m.TopicExists(spec.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		tc := kafka.TopicConfig{
			Topic:             spec.Name,
			NumPartitions:     spec.NumPartitions,
			ReplicationFactor: spec.ReplicationFactor,
		}
		if spec.RetentionMs > 0 {
			tc.ConfigEntries = append(tc.ConfigEntries, kafka.ConfigEntry{
				ConfigName:  "retention.ms",
				ConfigValue: strconv.FormatInt(spec.RetentionMs, 10),
			})
		}
		if err := m.conn.CreateTopics(tc); err != nil && !isTopicExists(err) {
			return errors.Wrap(err, errors.ErrCodeMessageQueueError, "failed to create topic").WithDetail(spec.Name)
		}
		m.logger.Info("Topic created", logging.String("topic", spec.Name))
	}
	return nil
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}

// WorkerTopics lists the request, result and dead-letter topics.
func WorkerTopics(cfg config.KafkaConfig, partitions, replication int) []TopicSpec {
	const week = int64(7 * 24 * 3600 * 1000)
	specs := []TopicSpec{
		{Name: cfg.RequestTopic, NumPartitions: partitions, ReplicationFactor: replication, RetentionMs: week},
		{Name: cfg.ResultTopic, NumPartitions: partitions, ReplicationFactor: replication, RetentionMs: week},
	}
	if cfg.DLQTopic != "" {
		specs = append(specs, TopicSpec{Name: cfg.DLQTopic, NumPartitions: 1, ReplicationFactor: replication, RetentionMs: 4 * week})
	}
	return specs
}

func validateSpec(s TopicSpec) error {
	switch {
	case s.Name == "":
		return errors.New(errors.ErrCodeValidation, "topic name required")
	case s.NumPartitions <= 0:
		return errors.New(errors.ErrCodeValidation, "partitions must be > 0").WithDetail(s.Name)
	case s.ReplicationFactor <= 0:
		return errors.New(errors.ErrCodeValidation, "replication factor must be > 0").WithDetail(s.Name)
	}
	return nil
}

func isTopicExists(err error) bool {
	return errors.Is(err, kafka.TopicAlreadyExists) || strings.Contains(err.Error(), "already exists")
}

func isUnknownTopic(err error) bool {
	return errors.Is(err, kafka.UnknownTopicOrPartition)
}
