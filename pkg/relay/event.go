// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

// Kind identifies an Event variant.
type Kind int

const (
	KindMessage Kind = iota + 1
	KindAction
	KindJoin
	KindPart
	KindKick
	KindQuit
	KindNickChange
	KindDisconnect
)

// String returns the variant name used in the activity log, e.g. "MessageEvent".
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "MessageEvent"
	case KindAction:
		return "ActionEvent"
	case KindJoin:
		return "JoinEvent"
	case KindPart:
		return "PartEvent"
	case KindKick:
		return "KickEvent"
	case KindQuit:
		return "QuitEvent"
	case KindNickChange:
		return "NickChangeEvent"
	case KindDisconnect:
		return "DisconnectEvent"
	default:
		return "UnknownEvent"
	}
}

// Event is an activity observed on a network connection. The set of
// implementations is closed: Message, Action, Join, Part, Kick, Quit,
// NickChange and Disconnect.
type Event interface {
	Kind() Kind
	// Actor returns the nick of the user performing the activity.
	Actor() (string, bool)
	// Channel returns the channel the activity happened in.
	Channel() (string, bool)

	event()
}

// Source carries the fields shared by all variants. Empty strings mean absent.
type Source struct {
	Nick        string
	ChannelName string
}

func (s Source) Actor() (string, bool) {
	return s.Nick, s.Nick != ""
}

func (s Source) Channel() (string, bool) {
	return s.ChannelName, s.ChannelName != ""
}

func (Source) event() {}

// Message is a normal channel message.
type Message struct {
	Source
	Text string
}

// Action is a CTCP ACTION ("/me") or the network's equivalent.
type Action struct {
	Source
	Text string
}

// Join is a user joining a channel.
type Join struct {
	Source
}

// Part is a user leaving a channel.
type Part struct {
	Source
	Reason string
}

// Kick is a user (Source.Nick) removing Recipient from a channel.
type Kick struct {
	Source
	Recipient string
	Reason    string
}

// Quit is a user leaving the network. It carries no channel.
type Quit struct {
	Source
	Reason string
}

// NickChange is a user renaming. Source.Nick holds the new nick.
type NickChange struct {
	Source
	OldNick string
	NewNick string
}

// Disconnect is emitted by a connector when its link to the network drops.
type Disconnect struct {
	Source
}

func (Message) Kind() Kind    { return KindMessage }
func (Action) Kind() Kind     { return KindAction }
func (Join) Kind() Kind       { return KindJoin }
func (Part) Kind() Kind       { return KindPart }
func (Kick) Kind() Kind       { return KindKick }
func (Quit) Kind() Kind       { return KindQuit }
func (NickChange) Kind() Kind { return KindNickChange }
func (Disconnect) Kind() Kind { return KindDisconnect }
