// Copyright 2024-2026 Aiku AI

// Package mattermost connects a relay endpoint to a Mattermost channel.
package mattermost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/ircbridge/pkg/connector"
	"github.com/aiku/ircbridge/pkg/relay"
)

const rejoinTimeout = 30 * time.Second

// Config describes one Mattermost connection. Channel is the channel's
// URL name within Team.
type Config struct {
	ServerURL     string        `yaml:"server_url"`
	Token         string        `yaml:"token"`
	Team          string        `yaml:"team"`
	Channel       string        `yaml:"channel"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// Conn is a Mattermost connector. It posts through the REST API and reads
// channel activity from the WebSocket event stream.
type Conn struct {
	connector.Emitter

	cfg    Config
	client *model.Client4
	log    zerolog.Logger

	userID    string
	selfName  atomic.Pointer[string]
	channelID string
	usernames *exsync.Map[string, string]

	wsLock  sync.Mutex
	ws      *model.WebSocketClient
	stopped atomic.Bool
}

var _ connector.Connector = (*Conn)(nil)

// New prepares a Mattermost connection. Nothing is contacted until Run.
func New(cfg Config, log zerolog.Logger) (*Conn, error) {
	if cfg.ServerURL == "" || cfg.Token == "" || cfg.Team == "" || cfg.Channel == "" {
		return nil, errors.New("mattermost: server_url, token, team and channel are required")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = connector.DefaultReconnectDelay
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.Token)
	return &Conn{
		cfg:       cfg,
		client:    client,
		log:       log.With().Str("component", "mattermost").Str("server_url", cfg.ServerURL).Logger(),
		usernames: exsync.NewMap[string, string](),
	}, nil
}

// Run authenticates, joins the channel and relays WebSocket events until
// ctx is cancelled or Quit is called, reconnecting after drops.
func (c *Conn) Run(ctx context.Context) error {
	for {
		err := c.setup(ctx)
		if err == nil {
			break
		}
		c.log.Error().Err(err).Dur("retry_in", c.cfg.ReconnectWait).Msg("Mattermost setup failed")
		if c.stopped.Load() {
			return nil
		}
		if err := connector.Sleep(ctx, c.cfg.ReconnectWait); err != nil {
			return nil
		}
	}

	for {
		if err := c.listen(ctx); err != nil {
			c.log.Error().Err(err).Msg("WebSocket connection failed")
		}
		if c.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		if err := connector.Sleep(ctx, c.cfg.ReconnectWait); err != nil {
			return nil
		}
	}
}

func (c *Conn) setup(ctx context.Context) error {
	me, _, err := c.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify session: %w", err)
	}
	c.userID = me.Id
	c.selfName.Store(&me.Username)
	c.usernames.Set(me.Id, me.Username)
	c.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	ch, _, err := c.client.GetChannelByNameForTeamName(ctx, c.cfg.Channel, c.cfg.Team, "")
	if err != nil {
		return fmt.Errorf("failed to find channel %s in team %s: %w", c.cfg.Channel, c.cfg.Team, err)
	}
	c.channelID = ch.Id

	if _, _, err := c.client.AddChannelMember(ctx, ch.Id, me.Id); err != nil {
		return fmt.Errorf("failed to join channel %s: %w", c.cfg.Channel, err)
	}
	return nil
}

// listen runs one WebSocket session. The endpoint is ready while it lasts.
func (c *Conn) listen(ctx context.Context) error {
	wsURL := httpToWS(c.cfg.ServerURL)
	ws, err := model.NewWebSocketClient4(wsURL, c.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	c.wsLock.Lock()
	if c.stopped.Load() {
		c.wsLock.Unlock()
		ws.Close()
		return nil
	}
	c.ws = ws
	c.wsLock.Unlock()
	ws.Listen()
	c.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")

	c.Emit(relay.Join{Source: relay.Source{Nick: c.Nick(), ChannelName: c.cfg.Channel}})
	defer c.Emit(relay.Disconnect{})

	for {
		select {
		case <-ctx.Done():
			c.closeWS()
			return nil
		case evt, ok := <-ws.EventChannel:
			if !ok {
				if ws.ListenError != nil {
					return ws.ListenError
				}
				c.log.Warn().Msg("WebSocket event channel closed")
				return nil
			}
			if evt == nil {
				continue
			}
			if ev, ok := c.convert(ctx, evt); ok {
				c.Emit(ev)
			}
		}
	}
}

// rejoinLater adds the bot back to the channel after it was removed. The
// user_added event that follows makes the endpoint ready again.
func (c *Conn) rejoinLater() {
	time.AfterFunc(c.cfg.ReconnectWait, func() {
		if c.stopped.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), rejoinTimeout)
		defer cancel()
		c.log.Info().Str("channel", c.cfg.Channel).Msg("Rejoining channel after removal")
		if _, _, err := c.client.AddChannelMember(ctx, c.channelID, c.userID); err != nil {
			c.log.Warn().Err(err).Msg("Failed to rejoin channel")
		}
	})
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// Nick returns the bot account's username.
func (c *Conn) Nick() string {
	if name := c.selfName.Load(); name != nil {
		return *name
	}
	return ""
}

// SendMessage posts text to the channel.
func (c *Conn) SendMessage(ctx context.Context, _, text string) error {
	return c.post(ctx, text)
}

// SendNotice posts text in italics, the closest Mattermost has to a notice.
func (c *Conn) SendNotice(ctx context.Context, _, text string) error {
	return c.post(ctx, "_"+text+"_")
}

func (c *Conn) post(ctx context.Context, message string) error {
	if c.channelID == "" {
		return errors.New("mattermost: channel not joined")
	}
	_, _, err := c.client.CreatePost(ctx, &model.Post{ChannelId: c.channelID, Message: message})
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// StopReconnect prevents Run from opening new sessions.
func (c *Conn) StopReconnect() {
	c.stopped.Store(true)
}

// Quit closes the WebSocket. Mattermost has no quit message, so message is
// only logged.
func (c *Conn) Quit(message string) error {
	c.stopped.Store(true)
	c.log.Info().Str("message", message).Msg("Quitting")
	c.closeWS()
	return nil
}

func (c *Conn) closeWS() {
	c.wsLock.Lock()
	defer c.wsLock.Unlock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
}
