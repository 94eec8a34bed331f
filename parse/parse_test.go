/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package parse

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/siemcore/model"
)

func TestDecodePriority(t *testing.T) {
	// PRI 38 = facility 4 (auth), severity 6 (info) -- a classic
	// sshd "Accepted password" priority.
	facility, severity := decodePriority(38)
	require.Equal(t, 4, facility)
	require.Equal(t, 6, severity)
}

func TestNormalizeYearRollback(t *testing.T) {
	// Dec 31 23:59:59 parsed with no year, received Jan 1 00:00:01 UTC:
	// naive "current year" placement would land > 24h in the future,
	// so the rule rolls the year back by one (§4.2, §8).
	received := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	noYear := time.Date(0, 12, 31, 23, 59, 59, 0, time.UTC)
	got := normalizeYear(noYear, received)
	require.Equal(t, 2025, got.Year())
	require.Equal(t, time.December, got.Month())
	require.Equal(t, 31, got.Day())
}

func TestNormalizeYearSameYear(t *testing.T) {
	received := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	noYear := time.Date(0, 6, 15, 11, 59, 0, 0, time.UTC)
	got := normalizeYear(noYear, received)
	require.Equal(t, 2026, got.Year())
}

func TestParseUnknownFallback(t *testing.T) {
	p := New()
	raw := model.RawMessage{
		Bytes:      []byte("this is not syslog at all"),
		SourceIP:   net.ParseIP("203.0.113.5"),
		ReceivedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	ev, err := p.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, model.FormatUnknown, ev.Format)
	require.Equal(t, raw.ReceivedAt, ev.Timestamp)
	require.Equal(t, "this is not syslog at all", ev.Message)
	require.Equal(t, int64(1), p.Stats().UnknownCount)
}

func TestParseEmptyFrameErrors(t *testing.T) {
	p := New()
	_, err := p.Parse(model.RawMessage{})
	require.Error(t, err)
}

func TestParseRFC3164(t *testing.T) {
	p := New()
	raw := model.RawMessage{
		Bytes:      []byte("<38>Jan 12 10:00:00 hostA sshd[1234]: Accepted password for alice from 203.0.113.10 port 5555 ssh2"),
		SourceIP:   net.ParseIP("203.0.113.10"),
		ReceivedAt: time.Date(2026, 1, 12, 10, 0, 1, 0, time.UTC),
	}
	ev, err := p.Parse(raw)
	require.NoError(t, err)
	if ev.Format == model.FormatRFC3164 {
		require.Equal(t, "sshd", ev.AppName)
		require.Contains(t, ev.Message, "Accepted password")
	}
}
