/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package saramabus

import (
	"encoding/json"

	"github.com/gravwell/siemcore/model"
)

// encode/decode use encoding/json rather than a schema-registry codec:
// none of the pack's Kafka consumers (kafka_consumer) assume a specific
// wire schema for message values, they pass raw bytes straight to the
// ingester. JSON keeps the wire format self-describing and debuggable
// on a topic with mixed tooling, at the cost of a little size versus a
// binary codec (acceptable: the bus sits in front of per-tenant
// detectors, not a high-fanout indexer).
func encode(ev model.EnrichedEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func decode(b []byte) (model.EnrichedEvent, error) {
	var ev model.EnrichedEvent
	err := json.Unmarshal(b, &ev)
	return ev, err
}
