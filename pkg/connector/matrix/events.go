// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrix

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/ircbridge/pkg/connector/matrixfmt"
	"github.com/aiku/ircbridge/pkg/relay"
)

// convert turns a timeline event in the joined room into a relay event.
// Events from before Run started are history and are skipped.
func (c *Conn) convert(evt *event.Event) (relay.Event, bool) {
	roomID := c.roomID.Load()
	if roomID == nil || evt.RoomID != *roomID || evt.Timestamp < c.startTS {
		return nil, false
	}

	switch evt.Type {
	case event.EventMessage:
		return c.convertMessage(evt)
	case event.StateMember:
		return c.convertMember(evt)
	default:
		return nil, false
	}
}

func (c *Conn) convertMessage(evt *event.Event) (relay.Event, bool) {
	content := evt.Content.AsMessage()
	src := c.source(evt.Sender)
	text := matrixfmt.Parse(content)
	msgType := content.MsgType
	if content.NewContent != nil {
		msgType = content.NewContent.MsgType
	}

	switch msgType {
	case event.MsgEmote:
		return relay.Action{Source: src, Text: text}, true
	case event.MsgText, event.MsgNotice:
		return relay.Message{Source: src, Text: text}, true
	case event.MsgImage, event.MsgFile, event.MsgVideo, event.MsgAudio:
		// Media bodies are file names; relay them as a mention of the upload.
		return relay.Message{Source: src, Text: "[" + string(msgType)[2:] + "] " + content.Body}, true
	default:
		return nil, false
	}
}

func (c *Conn) convertMember(evt *event.Event) (relay.Event, bool) {
	if evt.StateKey == nil {
		return nil, false
	}
	target := id.UserID(*evt.StateKey)
	content := evt.Content.AsMember()
	prev := previousMembership(evt)

	switch content.Membership {
	case event.MembershipJoin:
		if prev == event.MembershipJoin {
			// Profile change.
			return nil, false
		}
		return relay.Join{Source: c.source(target)}, true
	case event.MembershipLeave, event.MembershipBan:
		if prev != event.MembershipJoin {
			return nil, false
		}
		if evt.Sender == target {
			return relay.Part{Source: c.source(target), Reason: content.Reason}, true
		}
		return relay.Kick{Source: c.source(evt.Sender), Recipient: localpart(target), Reason: content.Reason}, true
	default:
		return nil, false
	}
}

func previousMembership(evt *event.Event) event.Membership {
	if evt.Unsigned.PrevContent == nil {
		return ""
	}
	membership, _ := evt.Unsigned.PrevContent.Raw["membership"].(string)
	return event.Membership(membership)
}

func (c *Conn) source(user id.UserID) relay.Source {
	return relay.Source{Nick: localpart(user), ChannelName: c.cfg.Room}
}

// localpart returns the localpart of user, or the whole ID if it is malformed.
func localpart(user id.UserID) string {
	lp, _, err := user.Parse()
	if err != nil {
		return user.String()
	}
	return lp
}
