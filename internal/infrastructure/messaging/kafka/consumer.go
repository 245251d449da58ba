package kafka

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/MicroNet-Diagnostics/internal/config"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/common"
)

var ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")

// Headers added to dead-lettered messages.
const (
	HeaderOriginalTopic = "original_topic"
	HeaderErrorMessage  = "error_message"
	HeaderErrorCode     = "error_code"
	HeaderAttempts      = "attempts"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// StartOffset is "earliest" or "latest" for groups without a commit.
	StartOffset   string
	CommitTimeout time.Duration
	RetryConfig   RetryConfig
}

// ConsumerConfigFrom maps the kafka configuration section onto a request
// consumer.
func ConsumerConfigFrom(cfg config.KafkaConfig) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       cfg.Brokers,
		GroupID:       cfg.GroupID,
		Topic:         cfg.RequestTopic,
		StartOffset:   cfg.StartOffset,
		CommitTimeout: cfg.CommitTimeout,
		RetryConfig: RetryConfig{
			MaxRetries:      cfg.MaxRetries,
			RetryBackoff:    cfg.RetryBackoff,
			DeadLetterTopic: cfg.DLQTopic,
		},
	}
}

// ConsumerStats is a snapshot of consumer counters.
type ConsumerStats struct {
	Consumed     int64
	Processed    int64
	Failed       int64
	Retried      int64
	DeadLettered int64
	Lag          int64
}

// Reader abstracts kafka.Reader for testing.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends dead-lettered messages.
type Publisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// Consumer reads one topic and hands every message to a handler. Failed
// messages are retried while their error code is retryable and then sent to
// the dead-letter topic. Offsets are committed only after a message is
// handled or dead-lettered.
type Consumer struct {
	reader  Reader
	config  ConsumerConfig
	handler common.MessageHandler
	dlq     Publisher
	logger  logging.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex

	consumed, processed, failed, retried, deadLettered, lag atomic.Int64

	sleep        func(ctx context.Context, d time.Duration) error
	onDeadLetter func(code string)
}

// NewConsumer creates a group consumer for cfg.Topic.
func NewConsumer(cfg ConsumerConfig, handler common.MessageHandler, dlq Publisher, logger logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	readerCfg := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10 * 1024 * 1024,
		MaxWait:        time.Second,
		SessionTimeout: 30 * time.Second,
		StartOffset:    kafka.FirstOffset,
		Dialer:         &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
	}
	if cfg.StartOffset == "latest" {
		readerCfg.StartOffset = kafka.LastOffset
	}
	return NewConsumerWithReader(kafka.NewReader(readerCfg), cfg, handler, dlq, logger), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r Reader, cfg ConsumerConfig, handler common.MessageHandler, dlq Publisher, logger logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.RetryConfig.RetryBackoff <= 0 {
		cfg.RetryConfig.RetryBackoff = time.Second
	}
	if cfg.RetryConfig.MaxRetryBackoff <= 0 {
		cfg.RetryConfig.MaxRetryBackoff = 30 * time.Second
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 5 * time.Second
	}
	return &Consumer{
		reader:  r,
		config:  cfg,
		handler: handler,
		dlq:     dlq,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Run consumes until ctx is cancelled or Close is called. It returns nil on
// a clean stop.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running.Load() {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.running.Store(true)
	c.mu.Unlock()
	defer c.running.Store(false)
	defer close(done)
	defer cancel()

	c.logger.Info("Kafka consumer started",
		logging.String("group", c.config.GroupID),
		logging.String("topic", c.config.Topic))

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("FetchMessage error", logging.Err(err))
			if c.sleep(ctx, time.Second) != nil {
				return nil
			}
			continue
		}

		c.consumed.Add(1)
		if m.HighWaterMark > 0 {
			c.lag.Store(m.HighWaterMark - m.Offset - 1)
		}

		if err := c.process(ctx, toMessage(m)); err != nil {
			c.failed.Add(1)
		} else {
			c.processed.Add(1)
		}
		if ctx.Err() != nil {
			// Shutdown interrupted processing; leave the offset for redelivery.
			return nil
		}
		c.commit(m)
	}
}

func (c *Consumer) commit(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.CommitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.Error("CommitMessages failed",
			logging.Int64("offset", m.Offset),
			logging.Err(err))
	}
}

// process returns the final handler error after retries and dead-lettering.
func (c *Consumer) process(ctx context.Context, msg *common.Message) error {
	err := c.handler(ctx, msg)
	attempts := 1
	backoff := c.config.RetryConfig.RetryBackoff

	for err != nil && attempts <= c.config.RetryConfig.MaxRetries && errors.IsRetryable(errors.GetCode(err)) {
		c.retried.Add(1)
		c.logger.Warn("Message handling failed, retrying",
			logging.Int64("offset", msg.Offset),
			logging.Int("attempt", attempts),
			logging.Err(err))
		if c.sleep(ctx, backoff) != nil {
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.config.RetryConfig.MaxRetryBackoff {
			backoff = c.config.RetryConfig.MaxRetryBackoff
		}
		err = c.handler(ctx, msg)
		attempts++
	}
	if err == nil {
		return nil
	}

	c.logger.Error("Message processing failed",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Int("attempts", attempts),
		logging.Err(err))
	c.deadLetter(ctx, msg, err, attempts)
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, msg *common.Message, cause error, attempts int) {
	if c.dlq == nil || c.config.RetryConfig.DeadLetterTopic == "" {
		return
	}
	headers := make(map[string]string, len(msg.Headers)+4)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderErrorMessage] = cause.Error()
	headers[HeaderErrorCode] = errors.GetCode(cause).String()
	headers[HeaderAttempts] = strconv.Itoa(attempts)

	dl := &common.ProducerMessage{
		Topic:   c.config.RetryConfig.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := c.dlq.Publish(ctx, dl); err != nil {
		c.logger.Error("Failed to send to dead letter queue", logging.Err(err))
		return
	}
	c.deadLettered.Add(1)
	if c.onDeadLetter != nil {
		c.onDeadLetter(headers[HeaderErrorCode])
	}
}

// OnDeadLetter registers fn to be called with the error code of every
// dead-lettered message. Call it before Run.
func (c *Consumer) OnDeadLetter(fn func(code string)) {
	c.onDeadLetter = fn
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Consumed:     c.consumed.Load(),
		Processed:    c.processed.Load(),
		Failed:       c.failed.Load(),
		Retried:      c.retried.Load(),
		DeadLettered: c.deadLettered.Load(),
		Lag:          c.lag.Load(),
	}
}

// Close stops Run, waits for it and closes the reader.
func (c *Consumer) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	err := c.reader.Close()
	c.logger.Info("Kafka consumer closed", logging.Int64("consumed", c.consumed.Load()))
	return err
}

func toMessage(m kafka.Message) *common.Message {
	msg := &common.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ValidateConsumerConfig validates configuration.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.GroupID == "" {
		return errors.New(errors.ErrCodeValidation, "group id required")
	}
	if cfg.Topic == "" {
		return errors.New(errors.ErrCodeValidation, "topic required")
	}
	if cfg.StartOffset != "" && cfg.StartOffset != "earliest" && cfg.StartOffset != "latest" {
		return errors.New(errors.ErrCodeValidation, "start offset must be earliest or latest")
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "max retries must be >= 0")
	}
	return nil
}
