// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
)

// Conn is a single network connection as seen by the relay. Connectors in
// pkg/connector implement it on top of a network client library.
type Conn interface {
	// Nick returns the connection's current own nick.
	Nick() string
	SendMessage(ctx context.Context, channel, text string) error
	SendNotice(ctx context.Context, channel, text string) error
	// StopReconnect disables the connection's automatic reconnection.
	StopReconnect()
	// Quit sends the network's quit command with the given message.
	Quit(message string) error
	// Listen registers the callback that receives this connection's events,
	// in the order they occurred on the network.
	Listen(handler func(Event))
}

// Send delivers a relay line to channel over conn.
func (l Line) Send(ctx context.Context, conn Conn, channel string) error {
	if l.Notice {
		return conn.SendNotice(ctx, channel, l.Text)
	}
	return conn.SendMessage(ctx, channel, l.Text)
}
