// Package kafkaconsumer applies table-change events from Kafka to the collection cache.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	obs "github.com/mohammed-shakir/geologic-api/internal/core/observability"
	"github.com/mohammed-shakir/geologic-api/internal/invalidation"
	mylog "github.com/mohammed-shakir/geologic-api/internal/logger"
)

// Invalidator retires cached collections of a table.
type Invalidator interface {
	Invalidate(ctx context.Context, table string) (int64, error)
}

// CatalogInvalidator drops cached table metadata.
type CatalogInvalidator interface {
	Invalidate()
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	cache   Invalidator
	catalog CatalogInvalidator
	seen    *redeliveryFilter
}

// New builds a consumer; catalog may be nil.
func New(cfg Config, logger *slog.Logger, cache Invalidator, catalog CatalogInvalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:     cfg,
		logger:  logger,
		cache:   cache,
		catalog: catalog,
		seen:    newRedeliveryFilter(0),
	}
}

// Start consumes invalidation events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache invalidator")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := &claimHandler{apply: c.ProcessOne, logger: c.logger}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			obs.IncKafkaConsumerError("consume")
			c.logger.ErrorContext(ctx, "kafka consumer error",
				"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne applies a single event. Undecodable and invalid events are
// logged and skipped, as is a message at an offset this consumer already
// applied on the same partition. A cache failure is returned so the offset is
// not marked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logger.WarnContext(ctx, "skipping undecodable event",
			"err", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("invalid")
		c.logger.WarnContext(ctx, "skipping invalid event",
			"err", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}

	ctx = mylog.WithTable(ctx, ev.Table)
	if c.seen.redelivered(msg) {
		c.logger.DebugContext(ctx, "skipping redelivered event",
			"op", ev.Op, "ts", ev.TS, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	if ev.Op == invalidation.OpReload && c.catalog != nil {
		c.catalog.Invalidate()
	}

	gen, err := c.cache.Invalidate(ctx, ev.Table)
	obs.ObserveInvalidation(ev.Op, err)
	if err != nil {
		obs.IncKafkaConsumerError("cache")
		c.logger.ErrorContext(ctx, "cache invalidation failed",
			"err", err, "op", ev.Op, "partition", msg.Partition, "offset", msg.Offset)
		return fmt.Errorf("invalidate %q: %w", ev.Table, err)
	}

	c.seen.applied(msg)
	c.logger.DebugContext(ctx, "invalidated table", "op", ev.Op, "generation", gen)
	return nil
}
