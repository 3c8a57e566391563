// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package irc

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/rs/zerolog"
)

// fakeIRCd is a single-client IRC server. It registers the client, echoes
// its JOINs back, answers QUIT by closing the link and records every line
// the client sends.
type fakeIRCd struct {
	ln net.Listener

	mu       sync.Mutex
	received []ircmsg.Message
	conn     net.Conn
	nick     string
}

func newFakeIRCd(t *testing.T) *fakeIRCd {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeIRCd{ln: ln}
	go f.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.Close()
		}
		f.mu.Unlock()
	})
	return f
}

func (f *fakeIRCd) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeIRCd) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		msg, err := ircmsg.ParseLine(scanner.Text())
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.received = append(f.received, msg)
		if msg.Command == "NICK" && len(msg.Params) > 0 {
			f.nick = msg.Params[0]
		}
		nick := f.nick
		f.mu.Unlock()

		switch msg.Command {
		case "USER":
			f.Send(":irc.test 001 %s :Welcome", nick)
			f.Send(":irc.test 376 %s :End of MOTD", nick)
		case "JOIN":
			f.Send(":%s!u@h JOIN %s", nick, msg.Params[0])
		case "PING":
			f.Send(":irc.test PONG irc.test :%s", msg.Params[0])
		case "QUIT":
			f.Send("ERROR :Closing link")
			return
		}
	}
}

// Send writes one line to the client.
func (f *fakeIRCd) Send(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_, _ = fmt.Fprintf(f.conn, format+"\r\n", args...)
	}
}

// Received returns the client's lines with the given command.
func (f *fakeIRCd) Received(command string) []ircmsg.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ircmsg.Message
	for _, msg := range f.received {
		if msg.Command == command {
			out = append(out, msg)
		}
	}
	return out
}

// newServerConn returns a connector for f with nick "bot" on #x.
func newServerConn(t *testing.T, f *fakeIRCd) *Conn {
	t.Helper()
	c, err := New(Config{
		Host:          "127.0.0.1",
		Port:          f.port(),
		Nick:          "bot",
		Channel:       "#x",
		ReconnectWait: 20 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
