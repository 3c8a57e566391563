// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
	"golang.org/x/time/rate"
)

// DefaultMaxBacklog is the per-endpoint queue limit used when
// EndpointConfig.MaxBacklog is zero.
const DefaultMaxBacklog = 4096

// EndpointConfig describes one bridged channel.
type EndpointConfig struct {
	Name    string
	Channel string
	Muted   bool

	// MaxBacklog bounds the outbound queue. When full, the oldest queued
	// line is dropped. Negative means unbounded.
	MaxBacklog int
	// SendRate limits outbound lines per second. Zero disables limiting.
	SendRate  float64
	SendBurst int
}

type delivery struct {
	origin string
	event  Event
}

// Endpoint is one network connection bound to one channel. It tracks
// whether the connection is currently joined to that channel and owns the
// ordered queue of lines waiting to be delivered to it.
type Endpoint struct {
	name    string
	channel string
	muted   bool
	conn    Conn
	pump    *Pump
	log     zerolog.Logger

	ready   *exsync.Event
	limiter *rate.Limiter

	maxBacklog int
	queueMu    sync.Mutex
	queue      []delivery
	wake       chan struct{}
	dropped    atomic.Uint64
}

func newEndpoint(pump *Pump, cfg EndpointConfig, conn Conn) *Endpoint {
	e := &Endpoint{
		name:       cfg.Name,
		channel:    cfg.Channel,
		muted:      cfg.Muted,
		conn:       conn,
		pump:       pump,
		log:        pump.log.With().Str("endpoint", cfg.Name).Str("channel", cfg.Channel).Logger(),
		ready:      exsync.NewEvent(),
		maxBacklog: cfg.MaxBacklog,
		wake:       make(chan struct{}, 1),
	}
	if e.maxBacklog == 0 {
		e.maxBacklog = DefaultMaxBacklog
	}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	return e
}

func (e *Endpoint) Name() string    { return e.name }
func (e *Endpoint) Channel() string { return e.channel }
func (e *Endpoint) Muted() bool     { return e.muted }
func (e *Endpoint) Conn() Conn      { return e.conn }

// Nick returns the connection's own current nick.
func (e *Endpoint) Nick() string { return e.conn.Nick() }

// Ready reports whether the connection is currently joined to the bound channel.
func (e *Endpoint) Ready() bool { return e.ready.IsSet() }

// WaitReady blocks until the endpoint is ready or ctx is done.
func (e *Endpoint) WaitReady(ctx context.Context) error {
	return e.ready.Wait(ctx)
}

// Backlog returns the number of lines queued for delivery.
func (e *Endpoint) Backlog() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// Dropped returns how many queued lines were discarded because the backlog was full.
func (e *Endpoint) Dropped() uint64 { return e.dropped.Load() }

func (e *Endpoint) setReady(ready bool) {
	if e.ready.IsSet() == ready {
		return
	}
	if ready {
		e.ready.Set()
	} else {
		e.ready.Clear()
	}
	e.log.Debug().Bool("ready", ready).Msg("Readiness changed")
}

// updateReadiness applies the readiness transition for an event observed on
// this endpoint's own connection.
func (e *Endpoint) updateReadiness(ev Event) {
	own := e.conn.Nick()
	switch ev := ev.(type) {
	case Disconnect:
		e.setReady(false)
	case Join:
		if ev.Nick == own && ev.ChannelName == e.channel {
			e.setReady(true)
		}
	case Kick:
		if ev.Recipient == own && ev.ChannelName == e.channel {
			e.setReady(false)
		}
	case Part:
		if ev.Nick == own && ev.ChannelName == e.channel {
			e.setReady(false)
		}
	case Quit:
		if ev.Nick == own {
			e.setReady(false)
		}
	}
}

// handleEvent is the connection listener. It runs on the connection's own
// goroutine and never blocks on other endpoints.
func (e *Endpoint) handleEvent(ev Event) {
	if ev == nil {
		return
	}
	e.updateReadiness(ev)
	if e.muted || !Relayable(ev) {
		return
	}
	// Echo prevention: never re-announce our own connection's activity.
	if actor, ok := ev.Actor(); ok && actor == e.conn.Nick() {
		return
	}
	if channel, ok := ev.Channel(); ok && channel != e.channel {
		return
	}
	e.pump.publish(e, ev)
}

// Publish queues ev, observed on origin, for delivery to this endpoint. It
// never blocks; the line is sent by the endpoint's worker once the endpoint
// is ready.
func (e *Endpoint) Publish(origin *Endpoint, ev Event) {
	if !Relayable(ev) {
		return
	}
	e.enqueue(delivery{origin: origin.name, event: ev})
}

func (e *Endpoint) enqueue(d delivery) {
	e.queueMu.Lock()
	if e.maxBacklog > 0 && len(e.queue) >= e.maxBacklog {
		e.queue[0] = delivery{}
		e.queue = e.queue[1:]
		n := e.dropped.Add(1)
		e.log.Warn().
			Int("max_backlog", e.maxBacklog).
			Uint64("dropped_total", n).
			Msg("Outbound backlog full, dropped oldest line")
	}
	e.queue = append(e.queue, d)
	e.queueMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Endpoint) next(ctx context.Context) (delivery, bool) {
	for {
		e.queueMu.Lock()
		if len(e.queue) > 0 {
			d := e.queue[0]
			e.queue[0] = delivery{}
			e.queue = e.queue[1:]
			e.queueMu.Unlock()
			return d, true
		}
		e.queueMu.Unlock()

		select {
		case <-e.wake:
		case <-ctx.Done():
			return delivery{}, false
		}
	}
}

// runWorker is the endpoint's single delivery goroutine.
func (e *Endpoint) runWorker(ctx context.Context) {
	e.log.Debug().Msg("Delivery worker started")
	defer e.log.Debug().Msg("Delivery worker stopped")
	for {
		d, ok := e.next(ctx)
		if !ok {
			return
		}
		e.deliver(ctx, d)
	}
}

func (e *Endpoint) deliver(ctx context.Context, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("origin", d.origin).Msg("Recovered from panic while relaying")
		}
	}()

	if err := e.ready.Wait(ctx); err != nil {
		return
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
	}
	line, ok := RelayLine(d.origin, d.event)
	if !ok {
		return
	}
	if err := line.Send(ctx, e.conn, e.channel); err != nil {
		e.log.Warn().Err(err).
			Str("origin", d.origin).
			Str("event", d.event.Kind().String()).
			Bool("notice", line.Notice).
			Msg("Failed to relay line")
	}
}
