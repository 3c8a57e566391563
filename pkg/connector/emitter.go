// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aiku/ircbridge/pkg/relay"
)

// DefaultReconnectDelay is how long a connector waits before reconnecting
// after its link drops.
const DefaultReconnectDelay = 15 * time.Second

// Connector is a relay connection the bridge runs on its own goroutine.
// Run blocks until the context is cancelled or the connector has quit.
type Connector interface {
	relay.Conn
	Run(ctx context.Context) error
}

// Emitter stores the relay listener and forwards converted events to it.
// Events emitted before a listener is registered are dropped.
type Emitter struct {
	mu      sync.RWMutex
	handler func(relay.Event)
}

// Listen implements the relay.Conn listener registration.
func (e *Emitter) Listen(handler func(relay.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Emit hands ev to the registered listener.
func (e *Emitter) Emit(ev relay.Event) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h != nil {
		h(ev)
	}
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SplitLines breaks text into its non-empty lines. Networks without
// multi-line messages send each line separately.
func SplitLines(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	lines := raw[:0]
	for _, line := range raw {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
