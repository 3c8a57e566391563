// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay implements the fan-out engine of the bridge.
//
// # Core Types
//
// [Pump] owns every [Endpoint] and republishes activity accepted on one
// endpoint to all the others. It also owns the one-way running flag and the
// coordinated shutdown that sends a quit to every connection.
//
// [Endpoint] is one network connection bound to one channel. It tracks
// readiness (joined to its channel or not) and owns an ordered outbound queue
// drained by a single worker goroutine, so lines reach a destination in the
// order the pump accepted them even with many sources publishing at once.
//
// [Event] is the closed set of activity variants connectors emit.
// [Describe] and [RelayLine] render them for the activity log and for
// delivery.
//
// # Echo Prevention
//
// An event is dropped before fan-out when its origin is muted, when its actor
// is the origin connection's own nick, or when it happened in a channel other
// than the origin's bound channel.
//
// # Netsplit Mode
//
// When every endpoint is the same identity on partitioned networks, seeing
// any endpoint's own nick as the actor of an accepted event means the
// networks have merged back, and the whole bridge shuts down.
package relay
