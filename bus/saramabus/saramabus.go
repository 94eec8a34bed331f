/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package saramabus is the production bus.Bus backend, a Kafka topic
// partitioned by hash(tenant_id). The consumer-group Setup/Cleanup/
// ConsumeClaim shape and the periodic-flush ConsumeClaim loop are
// adapted from the teacher's ingesters/kafka_consumer/consumer.go, with
// that consumer's per-batch session.MarkMessage commit generalized into
// explicit Ack/Nack so the detectors, not the bus, decide when a message
// is durably processed. Each delivery's visibility deadline is recorded
// but nothing checks it: an unacked message is consumed again only when
// the group resumes from its last committed offset.
package saramabus

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/gravwell/siemcore/bus"
	"github.com/gravwell/siemcore/internal/logx"
	"github.com/gravwell/siemcore/model"
)

const (
	kafkaVersion          = "2.8.0"
	defaultVisibilityWait = 30 * time.Second
)

// Config configures the Kafka-backed bus.
type Config struct {
	Brokers         []string
	Topic           string
	Group           string
	Partitions      int
	TLS             bool
	TLSSkipVerify   bool
	VisibilityDelay time.Duration
}

// Bus is the Kafka-backed bus.Bus implementation.
type Bus struct {
	cfg      Config
	lg       *logx.Logger
	producer sarama.SyncProducer
	client   sarama.ConsumerGroup

	mu      sync.Mutex
	pending map[pendingKey]*pendingAck
}

type pendingKey struct {
	partition int32
	offset    int64
}

type pendingAck struct {
	deadline time.Time
	done     bool
}

// New dials the Kafka cluster and builds a producer for Publish. The
// consumer group is constructed lazily in Subscribe, mirroring
// kafkaConsumer.Start's "construct the client only once a handler is
// registered" ordering.
func New(cfg Config, lg *logx.Logger) (*Bus, error) {
	if cfg.VisibilityDelay <= 0 {
		cfg.VisibilityDelay = defaultVisibilityWait
	}
	sc := saramaConfig(cfg)
	sc.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return &Bus{cfg: cfg, lg: lg, producer: producer, pending: make(map[pendingKey]*pendingAck)}, nil
}

func saramaConfig(cfg Config) *sarama.Config {
	sc := sarama.NewConfig()
	if v, err := sarama.ParseKafkaVersion(kafkaVersion); err == nil {
		sc.Version = v
	}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	if cfg.TLS {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.TLSSkipVerify}
	}
	return sc
}

// Publish keys the Kafka message by tenant_id so sarama's default
// hash partitioner lands every tenant's events in one partition,
// matching bus.Partition's hash(tenant_id) mod N rule.
func (b *Bus) Publish(ctx context.Context, ev model.EnrichedEvent) error {
	val, err := encode(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: b.cfg.Topic,
		Key:   sarama.StringEncoder(ev.TenantID),
		Value: sarama.ByteEncoder(val),
	}
	_, _, err = b.producer.SendMessage(msg)
	return err
}

// Subscribe joins a consumer group and blocks, handing each message to
// h. Each message's visibility deadline (cfg.VisibilityDelay) is stored
// in b.pending but never checked, so a message whose deadline passes
// without Ack or Nack is not redelivered by this process.
func (b *Bus) Subscribe(ctx context.Context, group string, h bus.Handler) error {
	sc := saramaConfig(b.cfg)
	client, err := sarama.NewConsumerGroup(b.cfg.Brokers, group, sc)
	if err != nil {
		return err
	}
	b.client = client
	handler := &groupHandler{bus: b, h: h}
	for {
		if err := client.Consume(ctx, []string{b.cfg.Topic}, handler); err != nil {
			if b.lg != nil {
				b.lg.Error("consumer group session error", logx.KVErr(err))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (b *Bus) Close() error {
	var err error
	if b.client != nil {
		err = b.client.Close()
	}
	if perr := b.producer.Close(); perr != nil && err == nil {
		err = perr
	}
	return err
}

type groupHandler struct {
	bus *Bus
	h   bus.Handler
}

func (g *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (g *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (g *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ev, err := decode(msg.Value)
		if err != nil {
			session.MarkMessage(msg, "")
			continue
		}
		ev.Partition = int(msg.Partition)
		ev.Offset = msg.Offset

		key := pendingKey{partition: msg.Partition, offset: msg.Offset}
		ack := &pendingAck{deadline: time.Now().Add(g.bus.cfg.VisibilityDelay)}
		g.bus.mu.Lock()
		g.bus.pending[key] = ack
		g.bus.mu.Unlock()

		d := bus.NewDelivery(ev,
			func() {
				g.bus.mu.Lock()
				ack.done = true
				delete(g.bus.pending, key)
				g.bus.mu.Unlock()
				session.MarkMessage(msg, "")
			},
			func() {
				g.bus.mu.Lock()
				ack.done = true
				delete(g.bus.pending, key)
				g.bus.mu.Unlock()
				// Nack without marking: on the next rebalance sarama
				// redelivers from the last committed offset.
			},
		)
		g.h(session.Context(), d)
	}
	return nil
}
