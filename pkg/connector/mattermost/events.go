// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/ircbridge/pkg/connector/mattermostfmt"
	"github.com/aiku/ircbridge/pkg/relay"
)

// convert turns a WebSocket event on the bound channel into a relay event.
func (c *Conn) convert(ctx context.Context, evt *model.WebSocketEvent) (relay.Event, bool) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		return c.convertPosted(ctx, evt)
	case model.WebsocketEventUserAdded:
		if evt.GetBroadcast().ChannelId != c.channelID {
			return nil, false
		}
		userID, _ := evt.GetData()["user_id"].(string)
		if userID == "" {
			return nil, false
		}
		return relay.Join{Source: c.source(c.username(ctx, userID))}, true
	case model.WebsocketEventUserRemoved:
		return c.convertRemoved(ctx, evt)
	default:
		c.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
		return nil, false
	}
}

func (c *Conn) convertPosted(ctx context.Context, evt *model.WebSocketEvent) (relay.Event, bool) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		c.log.Warn().Msg("Posted event missing post data")
		return nil, false
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		c.log.Warn().Err(err).Msg("Failed to unmarshal post")
		return nil, false
	}
	if post.ChannelId != c.channelID || post.UserId == c.userID {
		return nil, false
	}

	nick := c.username(ctx, post.UserId)
	if nick == post.UserId {
		if senderName, _ := evt.GetData()["sender_name"].(string); senderName != "" {
			nick = strings.TrimPrefix(senderName, "@")
		}
	}
	text := mattermostfmt.Plain(post.Message)

	switch post.Type {
	case model.PostTypeDefault:
		return relay.Message{Source: c.source(nick), Text: text}, true
	case model.PostTypeMe:
		return relay.Action{Source: c.source(nick), Text: text}, true
	default:
		// System posts duplicate user_added/user_removed.
		return nil, false
	}
}

func (c *Conn) convertRemoved(ctx context.Context, evt *model.WebSocketEvent) (relay.Event, bool) {
	data := evt.GetData()
	channelID, _ := data["channel_id"].(string)
	if channelID == "" {
		channelID = evt.GetBroadcast().ChannelId
	}
	if channelID != c.channelID {
		return nil, false
	}
	userID, _ := data["user_id"].(string)
	if userID == "" {
		userID = evt.GetBroadcast().UserId
	}
	if userID == "" {
		return nil, false
	}
	removerID, _ := data["remover_id"].(string)

	if userID == c.userID {
		c.rejoinLater()
	}
	nick := c.username(ctx, userID)
	if removerID == "" || removerID == userID {
		return relay.Part{Source: c.source(nick)}, true
	}
	return relay.Kick{Source: c.source(c.username(ctx, removerID)), Recipient: nick}, true
}

func (c *Conn) source(nick string) relay.Source {
	return relay.Source{Nick: nick, ChannelName: c.cfg.Channel}
}

// username resolves a user ID, caching results. The ID itself is returned
// when the lookup fails.
func (c *Conn) username(ctx context.Context, userID string) string {
	if name, ok := c.usernames.Get(userID); ok {
		return name
	}
	user, _, err := c.client.GetUser(ctx, userID, "")
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to look up user")
		return userID
	}
	c.usernames.Set(userID, user.Username)
	return user.Username
}
