// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/ircbridge/pkg/connector"
	"github.com/aiku/ircbridge/pkg/relay"
)

type sentLine struct {
	Channel string
	Text    string
	Notice  bool
}

// fakeConnector joins its channel when Run starts and returns when it is
// told to quit or its context ends.
type fakeConnector struct {
	connector.Emitter

	nick    string
	channel string
	// ignoreQuit keeps Run blocked after Quit, like a hung network.
	ignoreQuit bool

	mu      sync.Mutex
	sent    []sentLine
	quits   []string
	started chan struct{}
	quit    chan struct{}
	once    sync.Once
}

func newFakeConnector(nick, channel string) *fakeConnector {
	return &fakeConnector{
		nick:    nick,
		channel: channel,
		started: make(chan struct{}),
		quit:    make(chan struct{}),
	}
}

func (f *fakeConnector) Run(ctx context.Context) error {
	f.Emit(relay.Join{Source: relay.Source{Nick: f.nick, ChannelName: f.channel}})
	close(f.started)
	select {
	case <-ctx.Done():
	case <-f.quit:
	}
	return nil
}

func (f *fakeConnector) Nick() string { return f.nick }

func (f *fakeConnector) send(channel, text string, notice bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentLine{Channel: channel, Text: text, Notice: notice})
	return nil
}

func (f *fakeConnector) SendMessage(_ context.Context, channel, text string) error {
	return f.send(channel, text, false)
}

func (f *fakeConnector) SendNotice(_ context.Context, channel, text string) error {
	return f.send(channel, text, true)
}

func (f *fakeConnector) StopReconnect() {}

func (f *fakeConnector) Quit(message string) error {
	f.mu.Lock()
	f.quits = append(f.quits, message)
	f.mu.Unlock()
	if !f.ignoreQuit {
		f.once.Do(func() { close(f.quit) })
	}
	return nil
}

func (f *fakeConnector) Sent() []sentLine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentLine(nil), f.sent...)
}

func (f *fakeConnector) Quits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.quits...)
}

// fakeDialer hands out pre-built fakes by endpoint name.
func fakeDialer(fakes map[string]*fakeConnector) DialFunc {
	return func(ep EndpointConfig, _ zerolog.Logger) (connector.Connector, error) {
		return fakes[ep.Name], nil
	}
}

// twoEndpointConfig returns a post-processed config with IRC endpoints
// "net1" and "net2" on #x.
func twoEndpointConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.ApplyFlags(Flags{Endpoints: []string{
		"net1:bot:#x:irc.one.example",
		"net2:bot:#x:irc.two.example",
	}}); err != nil {
		t.Fatalf("ApplyFlags: %v", err)
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

func newTestBridge(t *testing.T, cfg *Config, fakes map[string]*fakeConnector) *Bridge {
	t.Helper()
	b, err := newBridge(cfg, zerolog.Nop(), fakeDialer(fakes))
	if err != nil {
		t.Fatalf("newBridge: %v", err)
	}
	t.Cleanup(b.pump.Close)
	return b
}

// runBridge runs b in the background and returns its result channel.
func runBridge(ctx context.Context, b *Bridge) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	return done
}

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

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not stop")
		return nil
	}
}
