// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge wires configured network connectors into a relay pump and
// runs them until shutdown.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/ircbridge/pkg/connector"
	"github.com/aiku/ircbridge/pkg/connector/irc"
	"github.com/aiku/ircbridge/pkg/connector/matrix"
	"github.com/aiku/ircbridge/pkg/connector/mattermost"
	"github.com/aiku/ircbridge/pkg/relay"
)

// DefaultShutdownGrace bounds how long Run waits for connectors to send
// their quit and return.
const DefaultShutdownGrace = 10 * time.Second

// DialFunc creates the connector for one endpoint.
type DialFunc func(ep EndpointConfig, log zerolog.Logger) (connector.Connector, error)

// Dial creates the connector matching ep.Type.
func Dial(ep EndpointConfig, log zerolog.Logger) (connector.Connector, error) {
	switch {
	case ep.Type == TypeIRC && ep.IRC != nil:
		c, err := irc.New(*ep.IRC, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ep.Type == TypeMattermost && ep.Mattermost != nil:
		c, err := mattermost.New(*ep.Mattermost, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ep.Type == TypeMatrix && ep.Matrix != nil:
		c, err := matrix.New(*ep.Matrix, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEndpointType, ep.Type)
	}
}

// Bridge owns the pump, one connector per endpoint and the admin API.
type Bridge struct {
	cfg   *Config
	log   zerolog.Logger
	pump  *relay.Pump
	conns map[string]connector.Connector
	admin *AdminAPI

	ShutdownGrace time.Duration
}

// New builds a bridge from a post-processed config.
func New(cfg *Config, log zerolog.Logger) (*Bridge, error) {
	return newBridge(cfg, log, Dial)
}

func newBridge(cfg *Config, log zerolog.Logger, dial DialFunc) (*Bridge, error) {
	b := &Bridge{
		cfg:           cfg,
		log:           log,
		pump:          relay.NewPump(log, cfg.Netsplit),
		conns:         make(map[string]connector.Connector, len(cfg.Endpoints)),
		ShutdownGrace: DefaultShutdownGrace,
	}
	for _, name := range cfg.UnknownMuted() {
		log.Warn().Str("endpoint", name).Msg("Muted endpoint is not configured")
	}
	for _, ep := range cfg.Endpoints {
		epLog := log.With().Str("endpoint", ep.Name).Logger()
		conn, err := dial(ep, epLog)
		if err != nil {
			b.pump.Close()
			return nil, fmt.Errorf("endpoint %q: %w", ep.Name, err)
		}
		_, err = b.pump.Add(relay.EndpointConfig{
			Name:       ep.Name,
			Channel:    ep.Channel(),
			Muted:      ep.Muted,
			MaxBacklog: cfg.Delivery.MaxBacklog,
			SendRate:   cfg.Delivery.SendRate,
			SendBurst:  cfg.Delivery.SendBurst,
		}, conn)
		if err != nil {
			b.pump.Close()
			return nil, fmt.Errorf("endpoint %q: %w", ep.Name, err)
		}
		b.conns[ep.Name] = conn
		epLog.Info().Str("type", ep.Type).Str("channel", ep.Channel()).Bool("muted", ep.Muted).Msg("Endpoint configured")
	}
	if cfg.AdminAPIAddr != "" {
		b.admin = NewAdminAPI(b.pump, cfg.QuitMessage, log)
	}
	return b, nil
}

// Pump returns the relay pump.
func (b *Bridge) Pump() *relay.Pump {
	return b.pump
}

// Run starts every connector and blocks until the bridge has shut down.
// Cancelling ctx triggers a coordinated shutdown with the configured quit
// message, as does a netsplit or an admin shutdown request.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.pump.Close()

	// Connectors outlive ctx so they can still send their quit.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	if b.admin != nil {
		adminCtx, cancelAdmin := context.WithCancel(connCtx)
		defer cancelAdmin()
		go func() {
			if err := b.admin.Serve(adminCtx, b.cfg.AdminAPIAddr); err != nil {
				b.log.Error().Err(err).Msg("Bridge admin API error")
			}
		}()
	}

	eg, egCtx := errgroup.WithContext(connCtx)
	for name, conn := range b.conns {
		eg.Go(func() error {
			if err := conn.Run(egCtx); err != nil {
				return fmt.Errorf("endpoint %q: %w", name, err)
			}
			return nil
		})
	}

	select {
	case <-ctx.Done():
		b.log.Info().Msg("Shutdown requested")
	case <-b.pump.Stopped():
	case <-egCtx.Done():
	}
	if b.pump.Shutdown(b.cfg.QuitMessage) {
		b.log.Info().Str("quit_message", b.cfg.QuitMessage).Msg("Sent quit to all endpoints")
	}

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(b.ShutdownGrace):
		b.log.Warn().Dur("grace", b.ShutdownGrace).Msg("Connectors did not stop in time, cancelling")
		cancelConns()
		return <-done
	}
}
