// Package kafka wires the collector to its broker: one consumer-group reader
// per inbound topic with per-partition ordered dispatch, and a per-topic
// writer pool for outbound events.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds broker connection configuration.
type Config struct {
	Brokers        []string      `yaml:"brokers"`
	GroupID        string        `yaml:"group_id"`
	Topics         []string      `yaml:"topics"`
	MaxWait        time.Duration `yaml:"max_wait"`
	BatchSize      int           `yaml:"batch_size"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	PartitionQueue int           `yaml:"partition_queue"`
}

func (c Config) withDefaults() Config {
	if c.GroupID == "" {
		c.GroupID = "interface-exception-collector"
	}
	if c.MaxWait <= 0 {
		c.MaxWait = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.PartitionQueue <= 0 {
		c.PartitionQueue = 64
	}
	return c
}

// Handler processes one message. A returned error means the message was not
// durably handled and must be attempted again before its offset is committed.
type Handler func(ctx context.Context, msg kafka.Message) error

// reader is the subset of *kafka.Reader the consumer needs.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReaderFactory opens a reader for one topic.
type ReaderFactory func(topic string) reader

// Consumer reads every configured topic and dispatches messages to per-partition
// workers so that ordering holds within a partition.
type Consumer struct {
	cfg       Config
	handlers  map[string]Handler
	newReader ReaderFactory
	logger    *slog.Logger

	readers []reader
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewConsumer creates a consumer for the topics that have a handler.
func NewConsumer(cfg Config, handlers map[string]Handler) *Consumer {
	cfg = cfg.withDefaults()
	c := &Consumer{
		cfg:      cfg,
		handlers: handlers,
		logger:   slog.Default().With("component", "kafka-consumer"),
	}
	c.newReader = func(topic string) reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       topic,
			StartOffset: kafka.FirstOffset,
			MaxWait:     cfg.MaxWait,
		})
	}
	return c
}

// Start launches one fetch loop per topic. It returns immediately.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return errors.New("no topic handlers registered")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, handler := range c.handlers {
		r := c.newReader(topic)
		c.readers = append(c.readers, r)

		c.wg.Add(1)
		go func(topic string, r reader, h Handler) {
			defer c.wg.Done()
			c.consume(ctx, topic, r, h)
		}(topic, r, handler)

		c.logger.Info("Kafka subscription started", "topic", topic, "group", c.cfg.GroupID)
	}
	return nil
}

// Wait blocks until every fetch loop and partition worker has exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

// Close closes all readers. Cancel the Start context first to stop the loops.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			lastErr = err
		}
	}
	c.readers = nil
	return lastErr
}

func (c *Consumer) consume(ctx context.Context, topic string, r reader, h Handler) {
	partitions := make(map[int]chan kafka.Message)
	var workers sync.WaitGroup
	defer func() {
		for _, ch := range partitions {
			close(ch)
		}
		workers.Wait()
	}()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to fetch message", "topic", topic, "error", err)
			if !sleep(ctx, c.cfg.RetryBackoff) {
				return
			}
			continue
		}

		ch, ok := partitions[msg.Partition]
		if !ok {
			ch = make(chan kafka.Message, c.cfg.PartitionQueue)
			partitions[msg.Partition] = ch
			workers.Add(1)
			go func() {
				defer workers.Done()
				c.work(ctx, r, h, ch)
			}()
		}

		select {
		case ch <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, r reader, h Handler, in <-chan kafka.Message) {
	for msg := range in {
		if !c.handle(ctx, h, msg) {
			// Context cancelled before the message was handled. Drain without
			// committing so the group redelivers from here.
			continue
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("Failed to commit offset",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handle retries h until it succeeds or ctx ends. It reports whether the
// message was handled.
func (c *Consumer) handle(ctx context.Context, h Handler, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := h(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Warn("Handler failed, will retry",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err,
		)
		if !sleep(ctx, c.cfg.RetryBackoff) {
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Ping dials the first reachable broker.
func Ping(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, b := range brokers {
		conn, err := (&kafka.Dialer{Timeout: 3 * time.Second}).DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}
