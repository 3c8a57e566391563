// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrix connects a relay endpoint to a Matrix room.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/ircbridge/pkg/connector"
	"github.com/aiku/ircbridge/pkg/relay"
)

// Config describes one Matrix connection. Room is a room ID or alias.
type Config struct {
	Homeserver    string        `yaml:"homeserver"`
	UserID        string        `yaml:"user_id"`
	AccessToken   string        `yaml:"access_token"`
	Room          string        `yaml:"room"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// Conn is a Matrix connector. Users are named by their MXID localpart.
type Conn struct {
	connector.Emitter

	cfg    Config
	client *mautrix.Client
	log    zerolog.Logger
	nick   string

	roomID  atomic.Pointer[id.RoomID]
	startTS int64
	stopped atomic.Bool
}

var _ connector.Connector = (*Conn)(nil)

// New prepares a Matrix client. Nothing is contacted until Run.
func New(cfg Config, log zerolog.Logger) (*Conn, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" || cfg.Room == "" {
		return nil, errors.New("matrix: homeserver, user_id, access_token and room are required")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = connector.DefaultReconnectDelay
	}
	userID := id.UserID(cfg.UserID)
	localpart, _, err := userID.Parse()
	if err != nil {
		return nil, fmt.Errorf("matrix: invalid user_id %q: %w", cfg.UserID, err)
	}
	client, err := mautrix.NewClient(cfg.Homeserver, userID, cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: failed to create client: %w", err)
	}

	c := &Conn{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "matrix").Str("user_id", cfg.UserID).Logger(),
		nick:   localpart,
	}
	client.Log = c.log

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.handle)
	syncer.OnEventType(event.StateMember, c.handle)
	return c, nil
}

func (c *Conn) handle(_ context.Context, evt *event.Event) {
	if ev, ok := c.convert(evt); ok {
		c.Emit(ev)
	}
}

// Run joins the room and syncs until ctx is cancelled or Quit is called,
// rejoining after sync failures.
func (c *Conn) Run(ctx context.Context) error {
	c.startTS = time.Now().UnixMilli()
	for {
		err := c.join(ctx)
		if err == nil {
			c.Emit(relay.Join{Source: relay.Source{Nick: c.nick, ChannelName: c.cfg.Room}})
			err = c.client.SyncWithContext(ctx)
			c.Emit(relay.Disconnect{})
		}
		if c.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		c.log.Error().Err(err).Dur("retry_in", c.cfg.ReconnectWait).Msg("Matrix connection lost")
		if err := connector.Sleep(ctx, c.cfg.ReconnectWait); err != nil {
			return nil
		}
	}
}

func (c *Conn) join(ctx context.Context) error {
	roomID := id.RoomID(c.cfg.Room)
	if strings.HasPrefix(c.cfg.Room, "#") {
		resp, err := c.client.ResolveAlias(ctx, id.RoomAlias(c.cfg.Room))
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", c.cfg.Room, err)
		}
		roomID = resp.RoomID
	}
	if _, err := c.client.JoinRoomByID(ctx, roomID); err != nil {
		return fmt.Errorf("failed to join %s: %w", roomID, err)
	}
	c.roomID.Store(&roomID)
	c.log.Info().Str("room_id", roomID.String()).Msg("Joined room")
	return nil
}

// Nick returns the bot's localpart.
func (c *Conn) Nick() string {
	return c.nick
}

// SendMessage sends text as m.text.
func (c *Conn) SendMessage(ctx context.Context, _, text string) error {
	roomID, err := c.room()
	if err != nil {
		return err
	}
	if _, err := c.client.SendText(ctx, roomID, text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendNotice sends text as m.notice.
func (c *Conn) SendNotice(ctx context.Context, _, text string) error {
	roomID, err := c.room()
	if err != nil {
		return err
	}
	if _, err := c.client.SendNotice(ctx, roomID, text); err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

func (c *Conn) room() (id.RoomID, error) {
	roomID := c.roomID.Load()
	if roomID == nil {
		return "", errors.New("matrix: room not joined")
	}
	return *roomID, nil
}

// StopReconnect prevents Run from rejoining after the sync loop ends.
func (c *Conn) StopReconnect() {
	c.stopped.Store(true)
}

// Quit stops syncing. The bot stays in the room, so message is only logged.
func (c *Conn) Quit(message string) error {
	c.stopped.Store(true)
	c.log.Info().Str("message", message).Msg("Quitting")
	c.client.StopSync()
	return nil
}
