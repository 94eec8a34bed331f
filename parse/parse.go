/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package parse implements the syslog parser (C2): RFC 3164 / RFC 5424
// frame decode into the canonical ParsedEvent shape, falling back to an
// unknown-format pass-through. Format detection and field extraction
// are grounded on the teacher's own use of gravwell/syslogparser in
// ingest/processors/syslogrouter.go (DetectRFC + per-format
// NewParser/Parse/Dump), reused here in the opposite direction: the
// teacher classifies already-ingested entries, we decode the wire frame
// itself.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	crfc5424 "github.com/crewjam/rfc5424"
	"github.com/gravwell/syslogparser"
	"github.com/gravwell/syslogparser/rfc3164"
	"github.com/gravwell/syslogparser/rfc5424"

	"github.com/gravwell/siemcore/model"
)

// Error counters are exposed as a snapshot via Stats; Parse itself
// never returns a fatal error per §4.2 ("ParseError is never fatal").
type Stats struct {
	ParseErrors  int64
	UnknownCount int64
}

// Parser decodes RawMessages into ParsedEvents.
type Parser struct {
	stats Stats
}

// New builds a Parser.
func New() *Parser {
	return &Parser{}
}

// Stats returns a snapshot of the running error counters.
func (p *Parser) Stats() Stats { return p.stats }

var rfc3164Header = regexp.MustCompile(`^<(\d{1,3})>([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})\s+(\S+)\s+([^:\[]+)(?:\[(\d+)\])?:\s?(.*)$`)
var rfc5424Lead = regexp.MustCompile(`^<\d{1,3}>1 `)

// Parse decodes raw into a ParsedEvent. It never returns a non-nil
// error for malformed input; instead it emits a best-effort
// FormatUnknown event and increments the Stats counters (UnknownCount
// for the unknown-format fallback, ParseErrors when a library parser
// rejects a recognized header), per
// spec.md §4.2's "ParseError is never fatal" rule. A non-nil error is
// only returned for truly empty input, which callers treat the same as
// dropping the frame.
func (p *Parser) Parse(raw model.RawMessage) (model.ParsedEvent, error) {
	if len(raw.Bytes) == 0 {
		return model.ParsedEvent{}, fmt.Errorf("parse: empty frame")
	}

	if rfc5424Lead.Match(raw.Bytes) {
		if ev, ok := p.parseRFC5424(raw); ok {
			return ev, nil
		}
	}
	if rfc3164Header.Match(raw.Bytes) {
		if ev, ok := p.parseRFC3164(raw); ok {
			return ev, nil
		}
	}

	// Fall back to the library's own sniff in case our quick regexes
	// missed a valid frame (e.g. a structured-data block containing a
	// literal "<...>1 " earlier in the message threw off rfc5424Lead).
	if tp, err := syslogparser.DetectRFC(raw.Bytes); err == nil {
		switch tp {
		case syslogparser.RFC_5424:
			if ev, ok := p.parseRFC5424(raw); ok {
				return ev, nil
			}
		case syslogparser.RFC_3164:
			if ev, ok := p.parseRFC3164(raw); ok {
				return ev, nil
			}
		}
	}

	p.stats.UnknownCount++
	return model.ParsedEvent{
		Timestamp: raw.ReceivedAt,
		Message:   string(raw.Bytes),
		Raw:       raw.Bytes,
		SourceIP:  raw.SourceIP,
		SourcePort: raw.SourcePort,
		Format:    model.FormatUnknown,
	}, nil
}

func (p *Parser) parseRFC5424(raw model.RawMessage) (model.ParsedEvent, bool) {
	parser := rfc5424.NewParser(raw.Bytes)
	if parser == nil {
		p.stats.ParseErrors++
		return model.ParsedEvent{}, false
	}
	if err := parser.Parse(); err != nil {
		p.stats.ParseErrors++
		return model.ParsedEvent{}, false
	}
	parts := parser.Dump()

	pri, _ := toInt(parts["priority"])
	facility, severity := decodePriority(pri)

	ts := raw.ReceivedAt
	if t, ok := parts["timestamp"].(time.Time); ok && !t.IsZero() {
		ts = normalizeYear(t, raw.ReceivedAt)
	}

	ev := model.ParsedEvent{
		Timestamp:      ts,
		Facility:       facility,
		Severity:       severity,
		Hostname:       toStr(parts["hostname"]),
		AppName:        toStr(parts["app_name"]),
		ProcID:         toStr(parts["proc_id"]),
		MsgID:          toStr(parts["msg_id"]),
		Message:        toStr(parts["message"]),
		StructuredData: decodeStructuredData(parts),
		Raw:            raw.Bytes,
		SourceIP:       raw.SourceIP,
		SourcePort:     raw.SourcePort,
		Format:         model.FormatRFC5424,
	}
	// crewjam/rfc5424 is the same library the teacher's own logger uses
	// to marshal its RFC5424 output (ingest/log/logging.go); used here
	// in reverse to unmarshal, its structured-data element ordering is
	// authoritative for the parser round-trip invariant (§8).
	var m crfc5424.Message
	if err := m.UnmarshalBinary(raw.Bytes); err == nil {
		if merged := mergeStructuredData(ev.StructuredData, m.StructuredData); merged != nil {
			ev.StructuredData = merged
		}
	}
	return ev, true
}

func (p *Parser) parseRFC3164(raw model.RawMessage) (model.ParsedEvent, bool) {
	parser := rfc3164.NewParser(raw.Bytes)
	if parser == nil {
		p.stats.ParseErrors++
		return model.ParsedEvent{}, false
	}
	if err := parser.Parse(); err != nil {
		p.stats.ParseErrors++
		return model.ParsedEvent{}, false
	}
	parts := parser.Dump()

	pri, _ := toInt(parts["priority"])
	facility, severity := decodePriority(pri)

	ts := raw.ReceivedAt
	if t, ok := parts["timestamp"].(time.Time); ok && !t.IsZero() {
		ts = normalizeYear(t, raw.ReceivedAt)
	}

	tag := toStr(parts["tag"])
	content := toStr(parts["content"])
	if content == "" {
		content = toStr(parts["message"])
	}

	return model.ParsedEvent{
		Timestamp:  ts,
		Facility:   facility,
		Severity:   severity,
		Hostname:   toStr(parts["hostname"]),
		AppName:    tag,
		Message:    content,
		Raw:        raw.Bytes,
		SourceIP:   raw.SourceIP,
		SourcePort: raw.SourcePort,
		Format:     model.FormatRFC3164,
	}, true
}

// decodePriority implements facility = PRI >> 3, severity = PRI & 7
// (§4.2).
func decodePriority(pri int) (facility, severity int) {
	return pri >> 3, pri & 7
}

// normalizeYear applies the year-rollback rule from §4.2/§8: a
// timestamp missing a year is assigned the current UTC year; if the
// result lands more than 24 hours in the future relative to received,
// the year is decremented by one (handles messages straddling a
// year boundary, e.g. "Dec 31 23:59:59" received just after midnight
// on Jan 1).
func normalizeYear(t time.Time, receivedAt time.Time) time.Time {
	if t.Year() > 1970 {
		// parser already attached a real year (rare for 3164, typical
		// for some vendor extensions); keep it, but still apply the
		// more-than-24h-in-the-future rollback.
		if t.Sub(receivedAt) > 24*time.Hour {
			t = time.Date(t.Year()-1, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		}
		return t
	}
	year := receivedAt.UTC().Year()
	candidate := time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	if candidate.Sub(receivedAt) > 24*time.Hour {
		candidate = time.Date(year-1, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	}
	return candidate
}

func decodeStructuredData(parts syslogparser.LogParts) map[string]map[string]string {
	raw, ok := parts["structured_data"]
	if !ok || raw == nil {
		return nil
	}
	out := make(map[string]map[string]string)
	switch v := raw.(type) {
	case map[string]map[string]string:
		for k, m := range v {
			cp := make(map[string]string, len(m))
			for kk, vv := range m {
				cp[kk] = vv
			}
			out[k] = cp
		}
	case string:
		parseInlineSD(v, out)
	}
	return out
}

// parseInlineSD handles the SD-ELEMENT text form `[id k="v" k2="v2"]...`
// when the library hands back the raw structured-data string rather
// than a pre-split map.
var sdElement = regexp.MustCompile(`\[([^\]\s]+)((?:\s+[^=\s]+="[^"]*")*)\]`)
var sdParam = regexp.MustCompile(`([^=\s]+)="([^"]*)"`)

func parseInlineSD(s string, out map[string]map[string]string) {
	for _, em := range sdElement.FindAllStringSubmatch(s, -1) {
		id, body := em[1], em[2]
		fields := make(map[string]string)
		for _, pm := range sdParam.FindAllStringSubmatch(body, -1) {
			fields[pm[1]] = pm[2]
		}
		out[id] = fields
	}
}

func mergeStructuredData(existing map[string]map[string]string, sd []crfc5424.StructuredData) map[string]map[string]string {
	if len(sd) == 0 {
		return existing
	}
	out := existing
	if out == nil {
		out = make(map[string]map[string]string)
	}
	for _, elem := range sd {
		fields := out[elem.ID]
		if fields == nil {
			fields = make(map[string]string)
		}
		for _, p := range elem.Parameters {
			fields[p.Name] = p.Value
		}
		out[elem.ID] = fields
	}
	return out
}

func toStr(v interface{}) string {
	switch t := v.(type) {
	case string:
		if t == "-" {
			return ""
		}
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}
