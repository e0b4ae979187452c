package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lawnchairsociety/twbridge/internal/bridge"
	"github.com/lawnchairsociety/twbridge/internal/chatfilter"
	"github.com/lawnchairsociety/twbridge/internal/econ"
	"github.com/lawnchairsociety/twbridge/internal/logger"
	"github.com/lawnchairsociety/twbridge/internal/namefilter"
	"github.com/lawnchairsociety/twbridge/internal/store"
)

// TokenEnvVar overrides discord_token when set.
const TokenEnvVar = "BRIDGE_DISCORD_TOKEN"

// Config is the complete bridge configuration file.
type Config struct {
	DiscordToken   string                 `yaml:"discord_token"`
	DiscordServers map[string]GuildConfig `yaml:"discord_servers"`
	Econ           EconConfig             `yaml:"econ"`
	Relay          RelayConfig            `yaml:"relay"`
	Logging        logger.Config          `yaml:"logging"`
	ChatFilter     chatfilter.Config      `yaml:"chat_filter"`
	NameFilter     namefilter.Config      `yaml:"name_filter"`
	Database       store.Config           `yaml:"database"`
}

// GuildConfig holds the settings for one Discord guild.
type GuildConfig struct {
	// AdminIDs are the Discord user ids allowed to run moderation commands.
	AdminIDs []string `yaml:"admin_ids"`

	// TeeworldsServers maps a Discord channel id to the game server bound to it.
	TeeworldsServers map[string]ServerConfig `yaml:"teeworlds_servers"`
}

// ServerConfig describes one game server console and how its events are relayed.
type ServerConfig struct {
	Name         string   `yaml:"name"`
	EconHost     string   `yaml:"econ_host"`
	EconPort     int      `yaml:"econ_port"`
	EconPassword string   `yaml:"econ_password"`
	Blacklist    []string `yaml:"blacklist"`
	ShowJoins    bool     `yaml:"show_joins"`
	ShowLeaves   bool     `yaml:"show_leaves"`
}

// EconConfig holds connection timing for every console client.
type EconConfig struct {
	ReconnectBackoffSeconds int `yaml:"reconnect_backoff_seconds"`
	DialTimeoutSeconds      int `yaml:"dial_timeout_seconds"`
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
}

// RelayConfig limits the text relayed from Discord into the game.
type RelayConfig struct {
	MaxAuthorLength  int `yaml:"max_author_length"`
	MaxContentLength int `yaml:"max_content_length"`
}

// Default returns a Config with every optional section filled in.
func Default() *Config {
	return &Config{
		DiscordServers: map[string]GuildConfig{},
		Econ: EconConfig{
			ReconnectBackoffSeconds: 5,
			DialTimeoutSeconds:      10,
			HandshakeTimeoutSeconds: 10,
		},
		Relay: RelayConfig{
			MaxAuthorLength:  30,
			MaxContentLength: 100,
		},
		Logging: logger.DefaultConfig(),
		ChatFilter: chatfilter.Config{
			Mode: chatfilter.ModeReplace,
		},
		Database: store.DefaultConfig("data/bridge.db"),
	}
}

// Load reads the configuration file at path on top of the defaults and
// applies environment overrides. Unlike the optional logging section, the
// file itself is required: a bridge without bindings has nothing to do.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.ChatFilter.Normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if token := os.Getenv(TokenEnvVar); token != "" {
		c.DiscordToken = token
	}
	c.Logging.ApplyEnv()
}

// Validate reports every problem found in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DiscordToken) == "" {
		errs = append(errs, fmt.Errorf("discord_token is required (or set %s)", TokenEnvVar))
	}
	if len(c.DiscordServers) == 0 {
		errs = append(errs, errors.New("discord_servers must configure at least one guild"))
	}

	for guildID, guild := range c.DiscordServers {
		if len(guild.TeeworldsServers) == 0 {
			errs = append(errs, fmt.Errorf("guild %s: teeworlds_servers is empty", guildID))
		}
		for channelID, server := range guild.TeeworldsServers {
			where := fmt.Sprintf("guild %s channel %s", guildID, channelID)
			if server.EconHost == "" {
				errs = append(errs, fmt.Errorf("%s: econ_host is required", where))
			}
			if server.EconPort <= 0 || server.EconPort > 65535 {
				errs = append(errs, fmt.Errorf("%s: econ_port %d is out of range", where, server.EconPort))
			}
			if server.EconPassword == "" {
				errs = append(errs, fmt.Errorf("%s: econ_password is required", where))
			}
		}
	}

	if c.Relay.MaxContentLength > econ.MaxCommandText {
		errs = append(errs, fmt.Errorf("relay.max_content_length %d exceeds the %d character command limit",
			c.Relay.MaxContentLength, econ.MaxCommandText))
	}
	if limits := c.RelayLimits(); bridge.ContentRoom(limits.MaxAuthor) < 1 {
		errs = append(errs, fmt.Errorf("relay.max_author_length %d leaves no room for content in a %d character command",
			limits.MaxAuthor, econ.MaxCommandText))
	}

	switch c.ChatFilter.Mode {
	case chatfilter.ModeReplace, chatfilter.ModeBlock, "":
	default:
		errs = append(errs, fmt.Errorf("chat_filter.mode %q must be REPLACE or BLOCK", c.ChatFilter.Mode))
	}

	switch store.DialectType(c.Database.Driver) {
	case store.DialectSQLite, store.DialectPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be sqlite or postgres", c.Database.Driver))
	}

	return errors.Join(errs...)
}

// EconOptions converts the econ section into client options.
func (c *Config) EconOptions() econ.Options {
	opts := econ.DefaultOptions()
	if c.Econ.ReconnectBackoffSeconds > 0 {
		opts.Backoff = time.Duration(c.Econ.ReconnectBackoffSeconds) * time.Second
	}
	if c.Econ.DialTimeoutSeconds > 0 {
		opts.DialTimeout = time.Duration(c.Econ.DialTimeoutSeconds) * time.Second
	}
	if c.Econ.HandshakeTimeoutSeconds > 0 {
		opts.HandshakeTimeout = time.Duration(c.Econ.HandshakeTimeoutSeconds) * time.Second
	}
	return opts
}

// RelayLimits converts the relay section into bridge limits.
func (c *Config) RelayLimits() bridge.Limits {
	limits := bridge.DefaultLimits()
	if c.Relay.MaxAuthorLength > 0 {
		limits.MaxAuthor = c.Relay.MaxAuthorLength
	}
	if c.Relay.MaxContentLength > 0 {
		limits.MaxContent = c.Relay.MaxContentLength
	}
	return limits
}

// Bindings flattens discord_servers into one binding per channel, sorted by
// guild then channel so startup order is stable.
func (c *Config) Bindings() []bridge.Binding {
	var bindings []bridge.Binding
	for guildID, guild := range c.DiscordServers {
		for channelID, server := range guild.TeeworldsServers {
			name := server.Name
			if name == "" {
				name = channelID
			}
			bindings = append(bindings, bridge.Binding{
				GuildID:   guildID,
				ChannelID: channelID,
				Name:      name,
				Endpoint: econ.Endpoint{
					Host:     server.EconHost,
					Port:     server.EconPort,
					Password: server.EconPassword,
				},
				ShowJoins:  server.ShowJoins,
				ShowLeaves: server.ShowLeaves,
				Blacklist:  bridge.NewNameSet(server.Blacklist),
			})
		}
	}

	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].GuildID != bindings[j].GuildID {
			return bindings[i].GuildID < bindings[j].GuildID
		}
		return bindings[i].ChannelID < bindings[j].ChannelID
	})
	return bindings
}

// Admins returns the admin ids of every guild.
func (c *Config) Admins() map[string][]string {
	admins := make(map[string][]string, len(c.DiscordServers))
	for guildID, guild := range c.DiscordServers {
		admins[guildID] = append([]string(nil), guild.AdminIDs...)
	}
	return admins
}
