// Package kafkaconsumer drops cached stamps when invalidation events arrive
// on a Kafka topic.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/cutout-service/internal/cache"
	"github.com/mohammed-shakir/cutout-service/internal/cache/keys"
	obs "github.com/mohammed-shakir/cutout-service/internal/core/observability"
	"github.com/mohammed-shakir/cutout-service/internal/invalidation"
	mylog "github.com/mohammed-shakir/cutout-service/internal/logger"
)

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	cache   cache.Interface
	schemas []string
	zlog    *zerolog.Logger
	applied *tsDedupe
}

// New builds a consumer deleting keys of every schema in schemas.
func New(cfg Config, logger *slog.Logger, c cache.Interface, schemas []string) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	zl := zerolog.New(os.Stdout).With().Timestamp().Str("component", "kafka_consumer").Logger()
	return &Consumer{
		cfg:     cfg,
		logger:  logger,
		cache:   c,
		schemas: schemas,
		zlog:    &zl,
		applied: newTSDedupe(8192),
	}
}

func saramaConfig(cfg Config) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Consumer.Group.Session.Timeout = cfg.SessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = cfg.Heartbeat
	sc.Consumer.Group.Rebalance.Timeout = cfg.RebalanceTimeout
	if cfg.InitialOffsetOldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	sc.Consumer.Offsets.AutoCommit.Enable = true
	return sc
}

// Start consumes invalidation events until ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil || len(c.schemas) == 0 {
		return errors.New("kafkaconsumer: missing dependencies (cache/schemas)")
	}

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, saramaConfig(c.cfg))
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID, "client_id", c.cfg.ClientID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single invalidation event. Malformed events are
// logged and skipped so they cannot block the partition; cache failures are
// returned so the offset is not committed.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("validate")
		mylog.FromContext(ctx, c.zlog).Warn().Err(err).
			Str("kind", "validate").
			Int64("offset", msg.Offset).
			Msg("skipping invalid invalidation event")
		return nil
	}

	ts := ev.TS.UnixNano()
	if c.applied.stale(ev.Path, ts) {
		c.logger.Debug("skipping replayed invalidation", "path", ev.Path, "offset", msg.Offset)
		return nil
	}

	opCtx := ctx
	if c.cfg.OpTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
	}

	deleted := 0
	prefixes := keys.InvalidationPrefixes(c.schemas, ev.Path)
	for _, p := range prefixes {
		n, err := c.cache.DeletePrefix(opCtx, p)
		deleted += n
		if err != nil {
			obs.IncKafkaConsumerError("cache_delete")
			obs.ObserveInvalidation(ev.Op, deleted, err)
			mylog.FromContext(ctx, c.zlog).Error().Err(err).
				Str("kind", "cache_delete").
				Str("topic", msg.Topic).
				Int32("partition", msg.Partition).
				Str("path", ev.Path).
				Msg("kafka error")
			return fmt.Errorf("cache delete prefix: %w", err)
		}
	}

	c.applied.record(ev.Path, ts)
	obs.ObserveInvalidation(ev.Op, deleted, nil)
	c.logger.Debug("invalidated keys",
		"path", ev.Path, "op", ev.Op, "prefixes", len(prefixes), "keys", deleted)
	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).Str("path", ev.Path).
		Int("keys", deleted).
		Msg("invalidated keys")
	return nil
}
