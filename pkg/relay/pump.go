// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// NetsplitQuitMessage is the quit message sent when netsplit mode detects a
// sibling connection's own nick on another network.
const NetsplitQuitMessage = "netsplit over, shutting down"

var (
	ErrEmptyEndpointName     = errors.New("endpoint name is empty")
	ErrDuplicateEndpointName = errors.New("duplicate endpoint name")
)

// Accepted describes an event the pump accepted for relaying.
type Accepted struct {
	Origin      string    `json:"origin"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
}

// Pump fans out activity accepted on one endpoint to every other endpoint.
type Pump struct {
	log      zerolog.Logger
	netsplit bool

	running atomic.Bool
	stopped chan struct{}

	addMu     sync.Mutex
	endpoints atomic.Pointer[[]*Endpoint]

	observerMu sync.RWMutex
	observers  []func(Accepted)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPump creates a running pump. In netsplit mode every endpoint is assumed
// to be the same identity on partitioned networks.
func NewPump(log zerolog.Logger, netsplit bool) *Pump {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pump{
		log:      log.With().Str("component", "pump").Logger(),
		netsplit: netsplit,
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.running.Store(true)
	empty := make([]*Endpoint, 0)
	p.endpoints.Store(&empty)
	return p
}

// Add registers a new endpoint, subscribes it to conn's events and starts
// its delivery worker.
func (p *Pump) Add(cfg EndpointConfig, conn Conn) (*Endpoint, error) {
	if cfg.Name == "" {
		return nil, ErrEmptyEndpointName
	}

	p.addMu.Lock()
	current := *p.endpoints.Load()
	for _, existing := range current {
		if existing.name == cfg.Name {
			p.addMu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEndpointName, cfg.Name)
		}
	}
	e := newEndpoint(p, cfg, conn)
	next := make([]*Endpoint, len(current), len(current)+1)
	copy(next, current)
	next = append(next, e)
	p.endpoints.Store(&next)
	p.addMu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		e.runWorker(p.ctx)
	}()
	conn.Listen(e.handleEvent)

	e.log.Info().Bool("muted", cfg.Muted).Msg("Endpoint registered")
	return e, nil
}

// Endpoints returns a snapshot of the registered endpoints.
func (p *Pump) Endpoints() []*Endpoint {
	return *p.endpoints.Load()
}

// Endpoint returns the endpoint with the given name.
func (p *Pump) Endpoint(name string) (*Endpoint, bool) {
	for _, e := range p.Endpoints() {
		if e.name == name {
			return e, true
		}
	}
	return nil, false
}

// Netsplit reports whether netsplit mode is enabled.
func (p *Pump) Netsplit() bool { return p.netsplit }

// Running reports whether the pump still relays events.
func (p *Pump) Running() bool { return p.running.Load() }

// Stopped is closed once Shutdown has run.
func (p *Pump) Stopped() <-chan struct{} { return p.stopped }

// Observe registers fn to be called for every accepted event. fn runs on
// the inbound goroutine and must not block.
func (p *Pump) Observe(fn func(Accepted)) {
	p.observerMu.Lock()
	p.observers = append(p.observers, fn)
	p.observerMu.Unlock()
}

func (p *Pump) notify(acc Accepted) {
	p.observerMu.RLock()
	defer p.observerMu.RUnlock()
	for _, fn := range p.observers {
		fn(acc)
	}
}

func (p *Pump) publish(origin *Endpoint, ev Event) {
	if !p.running.Load() {
		return
	}

	desc := Describe(ev)
	kind := ev.Kind().String()
	p.log.Info().
		Str("endpoint", origin.name).
		Str("event", kind).
		Msgf("[%s/%s] %s", origin.name, kind, desc)
	p.notify(Accepted{Origin: origin.name, Kind: kind, Description: desc, Time: time.Now()})

	if p.netsplit {
		if actor, ok := ev.Actor(); ok && p.isOwnNick(actor) {
			p.log.Warn().Str("endpoint", origin.name).Str("nick", actor).Msg("Own nick seen on another network")
			p.Shutdown(NetsplitQuitMessage)
			return
		}
	}

	for _, dest := range p.Endpoints() {
		if dest == origin {
			continue
		}
		dest.Publish(origin, ev)
	}
}

func (p *Pump) isOwnNick(nick string) bool {
	for _, e := range p.Endpoints() {
		if e.conn.Nick() == nick {
			return true
		}
	}
	return false
}

// Shutdown stops relaying and sends a quit to every endpoint. Only the first
// call has any effect; it returns false for every later call.
func (p *Pump) Shutdown(message string) bool {
	if !p.running.CompareAndSwap(true, false) {
		return false
	}
	message = sanitizeQuitMessage(message)
	p.log.Info().Str("message", message).Msg("Shutting down bridge")

	for _, e := range p.Endpoints() {
		e.conn.StopReconnect()
		if err := e.conn.Quit(message); err != nil {
			e.log.Warn().Err(err).Msg("Failed to send quit")
		}
	}
	close(p.stopped)
	return true
}

// Close stops all delivery workers and waits for them to exit. Lines still
// queued are discarded.
func (p *Pump) Close() {
	p.cancel()
	p.wg.Wait()
}

// sanitizeQuitMessage cuts the message at its first line break so it cannot
// smuggle extra protocol lines.
func sanitizeQuitMessage(message string) string {
	if i := strings.IndexAny(message, "\r\n"); i >= 0 {
		return message[:i]
	}
	return message
}
