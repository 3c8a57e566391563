// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package irc

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/aiku/ircbridge/pkg/relay"
)

var relayedCommands = []string{"PRIVMSG", "JOIN", "PART", "KICK", "QUIT", "NICK"}

const ctcpDelim = "\x01"

// toEvent converts a server message into a relay event. Channel names that
// match bound case-insensitively are reported as bound, since servers echo
// a channel in its canonical casing.
func toEvent(msg ircmsg.Message, bound string) (relay.Event, bool) {
	nick := msg.Nick()
	param := func(i int) string {
		if i < len(msg.Params) {
			return msg.Params[i]
		}
		return ""
	}
	channel := func(i int) string {
		if name := param(i); !strings.EqualFold(name, bound) {
			return name
		}
		return bound
	}

	switch msg.Command {
	case "PRIVMSG":
		if !isChannel(param(0)) {
			return nil, false
		}
		target, text := channel(0), param(1)
		src := relay.Source{Nick: nick, ChannelName: target}
		if action, ok := parseAction(text); ok {
			return relay.Action{Source: src, Text: action}, true
		}
		if strings.HasPrefix(text, ctcpDelim) {
			return nil, false
		}
		return relay.Message{Source: src, Text: text}, true
	case "JOIN":
		return relay.Join{Source: relay.Source{Nick: nick, ChannelName: channel(0)}}, true
	case "PART":
		return relay.Part{Source: relay.Source{Nick: nick, ChannelName: channel(0)}, Reason: param(1)}, true
	case "KICK":
		return relay.Kick{
			Source:    relay.Source{Nick: nick, ChannelName: channel(0)},
			Recipient: param(1),
			Reason:    param(2),
		}, true
	case "QUIT":
		return relay.Quit{Source: relay.Source{Nick: nick}, Reason: param(0)}, true
	case "NICK":
		newNick := param(0)
		return relay.NickChange{Source: relay.Source{Nick: newNick}, OldNick: nick, NewNick: newNick}, true
	default:
		return nil, false
	}
}

// parseAction extracts the body of a CTCP ACTION.
func parseAction(text string) (string, bool) {
	if !strings.HasPrefix(text, ctcpDelim+"ACTION") {
		return "", false
	}
	body := strings.TrimPrefix(text, ctcpDelim+"ACTION")
	body = strings.TrimSuffix(body, ctcpDelim)
	return strings.TrimPrefix(body, " "), true
}

func isChannel(target string) bool {
	return target != "" && strings.ContainsRune("#&+!", rune(target[0]))
}
