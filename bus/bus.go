/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package bus defines the event bus (C4) abstraction: tenant-partitioned
// publish/subscribe between the enricher and the detectors. Partition
// assignment is hash(tenant_id) mod N, so all of one tenant's events
// serialize through a single consumer, matching the teacher's
// kafka_consumer's one-handler-per-partition-claim model.
package bus

import (
	"context"
	"hash/fnv"

	"github.com/gravwell/siemcore/model"
)

// Delivery wraps an EnrichedEvent with an Ack/Nack callback, so
// at-least-once redelivery (the bus's only delivery guarantee, per
// §4.4) is explicit at the call site rather than implicit in the
// transport.
type Delivery struct {
	Event model.EnrichedEvent
	ack   func()
	nack  func()
}

func NewDelivery(ev model.EnrichedEvent, ack, nack func()) Delivery {
	return Delivery{Event: ev, ack: ack, nack: nack}
}

func (d Delivery) Ack()  { if d.ack != nil { d.ack() } }
func (d Delivery) Nack() { if d.nack != nil { d.nack() } }

// Handler processes one delivery. It must Ack or Nack exactly once.
type Handler func(ctx context.Context, d Delivery)

// Bus is the publish/subscribe substrate between the enricher and the
// detection stage.
type Bus interface {
	Publish(ctx context.Context, ev model.EnrichedEvent) error
	Subscribe(ctx context.Context, group string, h Handler) error
	Close() error
}

// Partition computes hash(tenant_id) mod n, the partitioning rule used
// by both bus backends to keep one tenant's events ordered through a
// single consumer.
func Partition(tenantID string, n int) int {
	if n <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	return int(h.Sum32() % uint32(n))
}
