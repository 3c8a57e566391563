// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command ircbridge relays one channel across several chat networks. Each
// endpoint is an IRC, Mattermost or Matrix connection bound to a single
// channel, and everything said on one endpoint is repeated on the others.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "maunium.net/go/mauflag"

	"github.com/aiku/ircbridge/pkg/bridge"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	name    = "ircbridge"
	version = "0.1.0"
)

var (
	configPath = flag.MakeFull("c", "config", "Path to the YAML config file.", "").String()
	endpoints  = flag.MakeFull("e", "endpoint", "Endpoint descriptor name:nick:channel:host[:port[:password]]. May be repeated.", "").StringArray()
	muted      = flag.MakeFull("m", "mute", "Name of an endpoint whose events are not relayed. May be repeated.", "").StringArray()
	netsplit   = flag.MakeFull("n", "netsplit", "Shut down when an endpoint's own nick shows up on another network.", "false").Bool()
	showVer    = flag.MakeFull("v", "version", "Print the version and exit.", "false").Bool()
)

var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles(
		fmt.Sprintf("%s - relay a channel between chat networks", name),
		fmt.Sprintf("%s [-hnv] [-c <path>] [-e <descriptor>]... [-m <name>]...", name),
	)
	err := flag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(2)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *showVer {
		fmt.Printf("%s %s (%s, commit %s, built %s)\n", name, version, Tag, Commit, BuildTime)
		os.Exit(0)
	}

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(10)
	}
	if err = cfg.ApplyFlags(bridge.Flags{
		Endpoints: nonEmpty(*endpoints),
		Muted:     nonEmpty(*muted),
		Netsplit:  *netsplit,
	}); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Invalid command line:", err)
		os.Exit(11)
	}
	if err = cfg.PostProcess(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Invalid config:", err)
		os.Exit(11)
	}
	log, err := cfg.Logger()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(12)
	}
	log.Info().
		Str("version", version).
		Str("commit", Commit).
		Int("endpoints", len(cfg.Endpoints)).
		Bool("netsplit", cfg.Netsplit).
		Msg("Initializing bridge")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bridge.New(cfg, *log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bridge")
	}
	if err = b.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Bridge stopped with error")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("Bridge stopped")
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
