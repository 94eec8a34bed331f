/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ingestsrv

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/siemcore/model"
)

func TestFindGoodRFC6587Header(t *testing.T) {
	frame := []byte("23 <34>1 2026-01-01T00:00:00Z h")
	count, start, end := findGoodRFC6587Header(frame)
	require.Equal(t, 23, count)
	require.Equal(t, 0, start)
	require.Greater(t, end, start)
}

func TestFindGoodRFC6587HeaderNoMatch(t *testing.T) {
	_, start, end := findGoodRFC6587Header([]byte("not a header at all"))
	require.Equal(t, -1, start)
	require.Equal(t, -1, end)
}

func TestUDPListenerEmitsMessages(t *testing.T) {
	s := New(nil, 16)
	err := s.Start([]ListenerSpec{{Name: "udp-test", Transport: model.TransportUDP, BindAddr: "127.0.0.1:0"}})
	require.NoError(t, err)

	s.mu.Lock()
	laddr := s.listeners[0].(*net.UDPConn).LocalAddr().(*net.UDPAddr)
	s.mu.Unlock()

	conn, err := net.DialUDP("udp", nil, laddr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("<38>Jan 12 10:00:00 hostA sshd[1]: Accepted password for alice\n"))
	require.NoError(t, err)

	select {
	case msg := <-s.Messages():
		require.True(t, bytes.Contains(msg.Bytes, []byte("Accepted password")))
		require.Equal(t, model.TransportUDP, msg.Transport)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for UDP message")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestTCPEmitBlocksUnderBackpressure(t *testing.T) {
	s := New(nil, 1)
	rip := net.ParseIP("203.0.113.1")

	s.emit([]byte("first"), rip, model.TransportTCP)

	blocked := make(chan struct{})
	go func() {
		s.emit([]byte("second"), rip, model.TransportTCP)
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("emit on a full channel must block for TCP, not drop")
	case <-time.After(50 * time.Millisecond):
	}

	<-s.Messages()
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("blocked emit did not unblock once the channel drained")
	}
}

func TestUDPEmitDropsUnderBackpressure(t *testing.T) {
	s := New(nil, 1)
	rip := net.ParseIP("203.0.113.1")

	s.emit([]byte("first"), rip, model.TransportUDP)
	s.emit([]byte("second"), rip, model.TransportUDP)

	require.Equal(t, int64(1), s.Stats().IngressUDPDrops)
}

func TestTCPNewlineFraming(t *testing.T) {
	s := New(nil, 16)
	err := s.Start([]ListenerSpec{{Name: "tcp-test", Transport: model.TransportTCP, BindAddr: "127.0.0.1:0", Framing: FramingNewline}})
	require.NoError(t, err)

	s.mu.Lock()
	laddr := s.listeners[0].(*net.TCPListener).Addr().(*net.TCPAddr)
	s.mu.Unlock()

	conn, err := net.DialTCP("tcp", nil, laddr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("<38>Jan 12 10:00:00 hostA sshd[1]: Accepted password for bob\n"))
	require.NoError(t, err)

	select {
	case msg := <-s.Messages():
		require.True(t, bytes.Contains(msg.Bytes, []byte("Accepted password for bob")))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TCP message")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
