// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package irc connects a relay endpoint to an IRC channel.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"
	"github.com/ergochat/irc-go/ircutils"
	"github.com/rs/zerolog"

	"github.com/aiku/ircbridge/pkg/connector"
	"github.com/aiku/ircbridge/pkg/relay"
)

// DefaultPort is used when Config.Port is zero.
const DefaultPort = 6667

const (
	maxLineLen = 512
	// hostmaskReserve is room for the ":nick!user@host " source the server
	// prepends when it relays our line, minus the nick itself.
	hostmaskReserve = len(":!@ ") + 10 + 63
	minBodyLen      = 32
)

// Config describes one IRC network connection.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Nick     string `yaml:"nick"`
	Channel  string `yaml:"channel"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	// TLSSkipVerify disables certificate checks for self-signed servers.
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	User          string        `yaml:"user"`
	RealName      string        `yaml:"real_name"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// Conn is an IRC connector.
type Conn struct {
	connector.Emitter

	cfg     Config
	irc     *ircevent.Connection
	log     zerolog.Logger
	stopped atomic.Bool
}

var _ connector.Connector = (*Conn)(nil)

// New prepares an IRC connection. Nothing is dialed until Run.
func New(cfg Config, log zerolog.Logger) (*Conn, error) {
	if cfg.Host == "" || cfg.Nick == "" || cfg.Channel == "" {
		return nil, errors.New("irc: host, nick and channel are required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.RealName == "" {
		cfg.RealName = cfg.Nick
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = connector.DefaultReconnectDelay
	}

	c := &Conn{
		cfg: cfg,
		log: log.With().Str("component", "irc").Str("server", cfg.Host).Logger(),
	}
	// Bodies are split to fit before sending; truncation only guards the
	// edge cases the estimate misses.
	c.irc = &ircevent.Connection{
		Server:          net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Nick:            cfg.Nick,
		User:            cfg.User,
		RealName:        cfg.RealName,
		Password:        cfg.Password,
		UseTLS:          cfg.TLS,
		ReconnectFreq:   cfg.ReconnectWait,
		MaxLineLen:      maxLineLen,
		AllowTruncation: true,
		Log:             stdLogger(c.log),
	}
	if cfg.TLS {
		c.irc.TLSConfig = &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec
		}
	}

	c.irc.AddConnectCallback(func(ircmsg.Message) {
		c.log.Info().Str("channel", cfg.Channel).Msg("Registered, joining channel")
		if err := c.irc.Join(cfg.Channel); err != nil {
			c.log.Warn().Err(err).Msg("Failed to send JOIN")
		}
	})
	c.irc.AddDisconnectCallback(func(ircmsg.Message) {
		c.log.Warn().Msg("Disconnected from server")
		c.Emit(relay.Disconnect{})
	})
	for _, command := range relayedCommands {
		c.irc.AddCallback(command, c.dispatch)
	}
	return c, nil
}

// stdLogger bridges the library's *log.Logger into zerolog at debug level.
func stdLogger(l zerolog.Logger) *log.Logger {
	return log.New(l.With().Str("source", "ircevent").Logger().Level(zerolog.DebugLevel), "", 0)
}

func (c *Conn) dispatch(msg ircmsg.Message) {
	ev, ok := toEvent(msg, c.cfg.Channel)
	if !ok {
		return
	}
	if kick, ok := ev.(relay.Kick); ok && kick.Recipient == c.Nick() && kick.ChannelName == c.cfg.Channel {
		c.rejoinLater()
	}
	c.Emit(ev)
}

// rejoinLater joins the bound channel again after a kick.
func (c *Conn) rejoinLater() {
	time.AfterFunc(c.cfg.ReconnectWait, func() {
		if c.stopped.Load() {
			return
		}
		c.log.Info().Str("channel", c.cfg.Channel).Msg("Rejoining channel after kick")
		if err := c.irc.Join(c.cfg.Channel); err != nil {
			c.log.Warn().Err(err).Msg("Failed to send JOIN")
		}
	})
}

// Run connects and services the connection until ctx is cancelled or Quit
// is called. The library reconnects on its own after a drop.
func (c *Conn) Run(ctx context.Context) error {
	for {
		c.log.Info().Str("addr", c.irc.Server).Bool("tls", c.cfg.TLS).Msg("Connecting")
		err := c.irc.Connect()
		if err == nil {
			break
		}
		c.log.Error().Err(err).Dur("retry_in", c.cfg.ReconnectWait).Msg("Connection failed")
		if c.stopped.Load() {
			return nil
		}
		if err := connector.Sleep(ctx, c.cfg.ReconnectWait); err != nil {
			return nil
		}
	}

	stop := context.AfterFunc(ctx, c.irc.Quit)
	defer stop()
	c.irc.Loop()
	return nil
}

// Nick returns the nick currently held on the server.
func (c *Conn) Nick() string {
	if nick := c.irc.CurrentNick(); nick != "" {
		return nick
	}
	return c.cfg.Nick
}

// SendMessage sends text as PRIVMSG. Each line is split into as many
// messages as the server's line length needs.
func (c *Conn) SendMessage(_ context.Context, channel, text string) error {
	return c.send("PRIVMSG", channel, text)
}

// SendNotice sends text as NOTICE, split like SendMessage.
func (c *Conn) SendNotice(_ context.Context, channel, text string) error {
	return c.send("NOTICE", channel, text)
}

func (c *Conn) send(command, target, text string) error {
	limit := c.bodyLimit(command, target)
	for _, line := range connector.SplitLines(text) {
		for _, part := range splitBody(line, limit) {
			if err := c.irc.Send(command, target, part); err != nil {
				return fmt.Errorf("%s %s: %w", strings.ToLower(command), target, err)
			}
		}
	}
	return nil
}

// bodyLimit is the number of text bytes that fit in one command to target
// once the server has added our source.
func (c *Conn) bodyLimit(command, target string) int {
	overhead := hostmaskReserve + len(c.Nick()) + len(command) + len(" ") + len(target) + len(" :") + len("\r\n")
	return max(maxLineLen-overhead, minBodyLen)
}

// splitBody cuts text into pieces of at most limit bytes without breaking
// a UTF-8 sequence, preferring to break at a space.
func splitBody(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		chunk := ircutils.TruncateUTF8Safe(text, limit)
		if chunk == "" {
			chunk = text[:limit]
		}
		if i := strings.LastIndexByte(chunk, ' '); i >= limit/2 {
			chunk = chunk[:i+1]
		}
		text = text[len(chunk):]
		if part := strings.TrimRight(chunk, " "); part != "" {
			parts = append(parts, part)
		}
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// StopReconnect keeps a failed initial connect from being retried. Once
// connected, Quit ends the library's reconnect loop.
func (c *Conn) StopReconnect() {
	c.stopped.Store(true)
}

// Quit sends QUIT with message and ends the connection loop.
func (c *Conn) Quit(message string) error {
	c.stopped.Store(true)
	c.irc.QuitMessage = message
	c.irc.Quit()
	return nil
}
