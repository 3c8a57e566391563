// Copyright 2024-2026 Aiku AI

package bridge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/ircbridge/pkg/connector/irc"
	"github.com/aiku/ircbridge/pkg/connector/matrix"
	"github.com/aiku/ircbridge/pkg/connector/mattermost"
	"github.com/aiku/ircbridge/pkg/relay"
)

//go:embed example-config.yaml
var ExampleConfig string

// DefaultQuitMessage is sent on shutdown when quit_message is empty.
const DefaultQuitMessage = "ircbridge shutting down"

// Endpoint types.
const (
	TypeIRC        = "irc"
	TypeMattermost = "mattermost"
	TypeMatrix     = "matrix"
)

var (
	ErrTooFewEndpoints     = errors.New("at least 2 endpoints are required")
	ErrDuplicateEndpoint   = errors.New("duplicate endpoint name")
	ErrInvalidDescriptor   = errors.New("invalid endpoint descriptor")
	ErrUnknownEndpointType = errors.New("unknown endpoint type")
)

// Config is the bridge configuration file.
type Config struct {
	Netsplit     bool              `yaml:"netsplit"`
	Muted        []string          `yaml:"muted"`
	QuitMessage  string            `yaml:"quit_message"`
	AdminAPIAddr string            `yaml:"admin_api_addr"`
	Delivery     DeliveryConfig    `yaml:"delivery"`
	Logging      zeroconfig.Config `yaml:"logging"`
	Endpoints    []EndpointConfig  `yaml:"endpoints"`
}

// DeliveryConfig holds the per-endpoint outbound queue settings.
type DeliveryConfig struct {
	MaxBacklog int     `yaml:"max_backlog"`
	SendRate   float64 `yaml:"send_rate"`
	SendBurst  int     `yaml:"send_burst"`
}

// EndpointConfig is one relayed network. Exactly the block matching Type
// is used.
type EndpointConfig struct {
	Name       string             `yaml:"name"`
	Type       string             `yaml:"type"`
	Muted      bool               `yaml:"muted"`
	IRC        *irc.Config        `yaml:"irc,omitempty"`
	Mattermost *mattermost.Config `yaml:"mattermost,omitempty"`
	Matrix     *matrix.Config     `yaml:"matrix,omitempty"`
}

// Channel returns the channel or room the endpoint is bound to.
func (e *EndpointConfig) Channel() string {
	switch {
	case e.Type == TypeIRC && e.IRC != nil:
		return e.IRC.Channel
	case e.Type == TypeMattermost && e.Mattermost != nil:
		return e.Mattermost.Channel
	case e.Type == TypeMatrix && e.Matrix != nil:
		return e.Matrix.Room
	}
	return ""
}

// Flags are the command-line settings merged on top of the file.
type Flags struct {
	Endpoints []string
	Muted     []string
	Netsplit  bool
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Bool, "netsplit")
	helper.Copy(up.List, "muted")
	helper.Copy(up.Str, "quit_message")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Int, "delivery", "max_backlog")
	helper.Copy(up.Int|up.Float, "delivery", "send_rate")
	helper.Copy(up.Int, "delivery", "send_burst")
	helper.Copy(up.Map, "logging")
	helper.Copy(up.List, "endpoints")
}

// LoadConfig reads path, filling keys it lacks from the example config.
// An empty path yields the example config.
func LoadConfig(path string) (*Config, error) {
	data := []byte(ExampleConfig)
	if path != "" {
		var err error
		data, _, err = up.Do(path, false, &up.StructUpgrader{
			SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
			Base:           ExampleConfig,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// ParseDescriptor parses an IRC endpoint given as
// name:nick:channel:host[:port[:password]].
func ParseDescriptor(desc string) (EndpointConfig, error) {
	f := strings.SplitN(desc, ":", 6)
	if len(f) < 4 {
		return EndpointConfig{}, fmt.Errorf("%w %q: want name:nick:channel:host[:port[:password]]", ErrInvalidDescriptor, desc)
	}
	for i, what := range []string{"name", "nick", "channel", "host"} {
		if f[i] == "" {
			return EndpointConfig{}, fmt.Errorf("%w %q: empty %s", ErrInvalidDescriptor, desc, what)
		}
	}
	ircCfg := &irc.Config{Nick: f[1], Channel: f[2], Host: f[3], Port: irc.DefaultPort}
	if len(f) >= 5 {
		port, err := strconv.Atoi(f[4])
		if err != nil || port <= 0 || port > 65535 {
			return EndpointConfig{}, fmt.Errorf("%w %q: bad port %q", ErrInvalidDescriptor, desc, f[4])
		}
		ircCfg.Port = port
	}
	if len(f) == 6 {
		ircCfg.Password = f[5]
	}
	return EndpointConfig{Name: f[0], Type: TypeIRC, IRC: ircCfg}, nil
}

// ApplyFlags merges command-line endpoints, mutes and netsplit mode.
func (c *Config) ApplyFlags(flags Flags) error {
	for _, desc := range flags.Endpoints {
		ep, err := ParseDescriptor(desc)
		if err != nil {
			return err
		}
		c.Endpoints = append(c.Endpoints, ep)
	}
	c.Muted = append(c.Muted, flags.Muted...)
	c.Netsplit = c.Netsplit || flags.Netsplit
	return nil
}

// PostProcess applies defaults and validates the merged configuration.
func (c *Config) PostProcess() error {
	if c.QuitMessage == "" {
		c.QuitMessage = DefaultQuitMessage
	}
	if c.Delivery.MaxBacklog == 0 {
		c.Delivery.MaxBacklog = relay.DefaultMaxBacklog
	}
	if c.Delivery.SendBurst <= 0 {
		c.Delivery.SendBurst = 1
	}
	if len(c.Endpoints) < 2 {
		return fmt.Errorf("%w, got %d", ErrTooFewEndpoints, len(c.Endpoints))
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.Name == "" {
			return fmt.Errorf("endpoint %d: %w", i, relay.ErrEmptyEndpointName)
		}
		if seen[ep.Name] {
			return fmt.Errorf("%w %q", ErrDuplicateEndpoint, ep.Name)
		}
		seen[ep.Name] = true
		switch ep.Type {
		case TypeIRC, TypeMattermost, TypeMatrix:
		default:
			return fmt.Errorf("endpoint %q: %w %q", ep.Name, ErrUnknownEndpointType, ep.Type)
		}
		if ep.Channel() == "" {
			return fmt.Errorf("endpoint %q: missing %s settings or channel", ep.Name, ep.Type)
		}
	}
	for _, name := range c.Muted {
		for i := range c.Endpoints {
			if c.Endpoints[i].Name == name {
				c.Endpoints[i].Muted = true
			}
		}
	}
	return nil
}

// UnknownMuted returns muted names that match no endpoint.
func (c *Config) UnknownMuted() []string {
	var unknown []string
	for _, name := range c.Muted {
		found := false
		for _, ep := range c.Endpoints {
			found = found || ep.Name == name
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// Logger builds the process logger from the logging block. Without
// writers it logs to stdout through a console writer.
func (c *Config) Logger() (*zerolog.Logger, error) {
	if len(c.Logging.Writers) == 0 {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
		return &log, nil
	}
	log, err := c.Logging.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}
