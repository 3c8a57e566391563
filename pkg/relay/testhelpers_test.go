// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// sentLine records one SendMessage/SendNotice call.
type sentLine struct {
	Channel string
	Text    string
	Notice  bool
}

// fakeConn is an in-memory Conn that records everything sent through it.
type fakeConn struct {
	mu             sync.Mutex
	nick           string
	handler        func(Event)
	sent           []sentLine
	quits          []string
	stopReconnects int
	// failNext makes the next N sends return an error.
	failNext int
	// panicNext makes the next send panic.
	panicNext bool
}

var errFakeSend = errors.New("fake send failure")

func newFakeConn(nick string) *fakeConn {
	return &fakeConn{nick: nick}
}

func (f *fakeConn) Nick() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nick
}

func (f *fakeConn) setNick(nick string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nick = nick
}

func (f *fakeConn) send(channel, text string, notice bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicNext {
		f.panicNext = false
		panic("fake send panic")
	}
	if f.failNext > 0 {
		f.failNext--
		return errFakeSend
	}
	f.sent = append(f.sent, sentLine{Channel: channel, Text: text, Notice: notice})
	return nil
}

func (f *fakeConn) SendMessage(_ context.Context, channel, text string) error {
	return f.send(channel, text, false)
}

func (f *fakeConn) SendNotice(_ context.Context, channel, text string) error {
	return f.send(channel, text, true)
}

func (f *fakeConn) StopReconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopReconnects++
}

func (f *fakeConn) Quit(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits = append(f.quits, message)
	return nil
}

func (f *fakeConn) Listen(handler func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

// emit delivers ev to the registered listener as the network library would.
func (f *fakeConn) emit(ev Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

func (f *fakeConn) Sent() []sentLine {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentLine, len(f.sent))
	copy(cp, f.sent)
	return cp
}

func (f *fakeConn) Quits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.quits))
	copy(cp, f.quits)
	return cp
}

func (f *fakeConn) StopReconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopReconnects
}

func newTestPump(t *testing.T, netsplit bool) *Pump {
	t.Helper()
	p := NewPump(zerolog.Nop(), netsplit)
	t.Cleanup(p.Close)
	return p
}

func mustAdd(t *testing.T, p *Pump, cfg EndpointConfig, conn Conn) *Endpoint {
	t.Helper()
	e, err := p.Add(cfg, conn)
	if err != nil {
		t.Fatalf("Add(%s): %v", cfg.Name, err)
	}
	return e
}

// joinSelf marks the endpoint ready the way a connector does after joining.
func joinSelf(conn *fakeConn, channel string) {
	conn.emit(Join{Source{Nick: conn.Nick(), ChannelName: channel}})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitSent waits until conn has recorded at least n lines and returns them.
func waitSent(t *testing.T, conn *fakeConn, n int) []sentLine {
	t.Helper()
	waitFor(t, "sent lines", func() bool { return len(conn.Sent()) >= n })
	return conn.Sent()
}

// settle gives delivery workers a moment to act on anything queued.
func settle() {
	time.Sleep(30 * time.Millisecond)
}
