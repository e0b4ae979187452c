// Package discord adapts a discordgo session to the bridge: it forwards guild
// messages and READY to a Handler and posts relayed chat to channels.
package discord

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lawnchairsociety/twbridge/internal/bridge"
	"github.com/lawnchairsociety/twbridge/internal/logger"
)

// MaxMessageLength is Discord's limit for a message body.
const MaxMessageLength = 2000

// DefaultIntents subscribes to guild text messages including their content.
const DefaultIntents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

// Handler receives gateway events. Calls may arrive concurrently.
type Handler interface {
	OnReady(ctx context.Context, selfID string)
	OnChannelMessage(ctx context.Context, msg bridge.InboundMessage)
}

// Options configures a Client.
type Options struct {
	Token   string
	Intents discordgo.Intent
	// Backoff is the delay between failed gateway connection attempts.
	Backoff time.Duration
	// HTTPClient replaces the session's REST client when set.
	HTTPClient *http.Client
}

// Client owns one discordgo session.
type Client struct {
	session *discordgo.Session
	opts    Options
}

var routeLogsOnce sync.Once

// NewClient builds a bot session. Nothing is dialled until Run.
func NewClient(opts Options) *Client {
	if opts.Intents == 0 {
		opts.Intents = DefaultIntents
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	routeLogsOnce.Do(routeLibraryLogs)

	session, _ := discordgo.New("Bot " + opts.Token)
	session.Identify.Intents = opts.Intents
	session.StateEnabled = false
	session.LogLevel = discordgo.LogWarning
	session.UserAgent = "twbridge (https://github.com/lawnchairsociety/twbridge)"
	if opts.HTTPClient != nil {
		session.Client = opts.HTTPClient
	}
	return &Client{session: session, opts: opts}
}

// Session exposes the underlying discordgo session.
func (c *Client) Session() *discordgo.Session {
	return c.session
}

// routeLibraryLogs sends discordgo's own log lines through the bridge logger.
func routeLibraryLogs() {
	discordgo.Logger = func(level, caller int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch level {
		case discordgo.LogError:
			logger.Error("discordgo", "message", msg)
		case discordgo.LogWarning:
			logger.Warning("discordgo", "message", msg)
		case discordgo.LogInformational:
			logger.Info("discordgo", "message", msg)
		default:
			logger.Debug("discordgo", "message", msg)
		}
	}
}
