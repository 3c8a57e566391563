// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector holds what the network connectors share: the
// [Connector] contract the bridge runs, the [Emitter] that hands converted
// events to the relay listener, and reconnect helpers.
//
// # Connectors
//
// Each sub-package wraps one chat network client library and exposes a
// type implementing [Connector]:
//
//   - irc speaks IRC through ergochat's ircevent.
//   - mattermost uses the Mattermost REST API and WebSocket event stream.
//   - matrix uses the mautrix client-server API and /sync loop.
//
// A connector converts its network's traffic into the closed set of
// [relay.Event] variants and calls the listener in network order. Once
// the bound channel is joined it emits a Join for its own nick so the
// endpoint becomes ready, and when the link drops it emits a Disconnect.
//
// # Sub-packages
//
//   - matrixfmt converts Matrix message content to plain text.
//   - mattermostfmt converts Mattermost markdown to plain text.
package connector
