// Package bridge pairs game server consoles with Discord channels. Each
// Bridge pumps console events into its channel and relays channel messages
// back into the game.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lawnchairsociety/twbridge/internal/antispam"
	"github.com/lawnchairsociety/twbridge/internal/chatfilter"
	"github.com/lawnchairsociety/twbridge/internal/econ"
	"github.com/lawnchairsociety/twbridge/internal/logger"
	"github.com/lawnchairsociety/twbridge/internal/namefilter"
)

var (
	// ErrFiltered is returned by Relay when the word filter blocks a message.
	ErrFiltered = errors.New("message blocked by chat filter")

	// ErrRateLimited is returned by Relay when the author is sending too much.
	ErrRateLimited = errors.New("message dropped by anti-spam")
)

// LineClient is the console connection a Bridge drives. *econ.Client
// implements it.
type LineClient interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, text string) error
	Receive(ctx context.Context) (string, error)
	Close() error
}

// ChannelSender posts text to a Discord channel.
type ChannelSender interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// MuteChecker reports whether a player is muted in a channel.
type MuteChecker interface {
	IsMuted(ctx context.Context, guildID, channelID, name string) (bool, error)
}

// InboundMessage is a Discord message addressed to a bound channel. Content
// has already had user mentions rendered as @name.
type InboundMessage struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
}

// NameSet is a set of exact player names.
type NameSet map[string]struct{}

// NewNameSet builds a set from names.
func NewNameSet(names []string) NameSet {
	set := make(NameSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Contains reports whether name is in the set. A nil set contains nothing.
func (s NameSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Binding pairs one console endpoint with one Discord channel.
type Binding struct {
	GuildID    string
	ChannelID  string
	Name       string
	Endpoint   econ.Endpoint
	ShowJoins  bool
	ShowLeaves bool
	Blacklist  NameSet
}

// Options holds the optional collaborators of a Bridge. Nil fields disable
// the matching feature.
type Options struct {
	Limits Limits
	Filter *chatfilter.ChatFilter
	Spam   *antispam.Limiter
	Mutes  MuteChecker
	Names  *namefilter.NameFilter
}

// Bridge relays between one console client and one Discord channel.
type Bridge struct {
	binding Binding
	client  LineClient
	sender  ChannelSender
	opts    Options
}

// New creates a Bridge. The client must not be shared with another Bridge.
func New(binding Binding, client LineClient, sender ChannelSender, opts Options) *Bridge {
	defaults := DefaultLimits()
	if opts.Limits.MaxAuthor <= 0 {
		opts.Limits.MaxAuthor = defaults.MaxAuthor
	}
	if opts.Limits.MaxContent <= 0 {
		opts.Limits.MaxContent = defaults.MaxContent
	}
	return &Bridge{
		binding: binding,
		client:  client,
		sender:  sender,
		opts:    opts,
	}
}

// Binding returns the binding this bridge serves.
func (b *Bridge) Binding() Binding {
	return b.binding
}

// Run connects the client and forwards console events to the channel until
// ctx is cancelled, at which point the client is closed. Outages are
// absorbed by the client, so Run only returns on shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	// The AfterFunc interrupts a blocked Receive; the deferred Close makes
	// sure the client is closed by the time Run returns.
	stop := context.AfterFunc(ctx, func() { b.client.Close() })
	defer stop()
	defer b.client.Close()

	logger.Info("Bridge connecting", "server", b.binding.Name, "addr", b.binding.Endpoint.Addr(), "channel", b.binding.ChannelID)
	if err := b.client.Connect(ctx); err != nil {
		return b.exitErr(ctx, err)
	}
	logger.Info("Bridge active", "server", b.binding.Name, "channel", b.binding.ChannelID)

	for {
		line, err := b.client.Receive(ctx)
		if err != nil {
			return b.exitErr(ctx, err)
		}
		b.forward(ctx, line)
	}
}

// exitErr maps the error that ended Run. Shutdown is not an error.
func (b *Bridge) exitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, econ.ErrClosed) {
		logger.Info("Bridge stopped", "server", b.binding.Name)
		return nil
	}
	return fmt.Errorf("bridge %s: %w", b.binding.Name, err)
}

// forward relays one console line. Discord failures are logged and the line
// is dropped.
func (b *Bridge) forward(ctx context.Context, line string) {
	ev := econ.Parse(line)
	if !b.shouldRelay(ctx, ev) {
		if ev.Kind == econ.EventIgnored {
			logger.Debug("Ignored console line", "server", b.binding.Name, "line", line)
		}
		return
	}

	text, ok := formatEvent(ev)
	if !ok {
		return
	}
	if err := b.sender.SendMessage(ctx, b.binding.ChannelID, text); err != nil {
		logger.Warning("Failed to send to Discord", "server", b.binding.Name, "channel", b.binding.ChannelID, "error", err)
	}
}

func (b *Bridge) shouldRelay(ctx context.Context, ev econ.Event) bool {
	switch ev.Kind {
	case econ.EventChat:
		return !b.suppressed(ctx, ev.Speaker)
	case econ.EventJoin:
		return b.binding.ShowJoins && !b.opts.Names.Hidden(ev.Name)
	case econ.EventLeave:
		return b.binding.ShowLeaves && !b.opts.Names.Hidden(ev.Name)
	default:
		return false
	}
}

// suppressed reports whether chat from speaker is withheld from Discord.
func (b *Bridge) suppressed(ctx context.Context, speaker string) bool {
	if b.binding.Blacklist.Contains(speaker) || b.opts.Names.Hidden(speaker) {
		return true
	}
	if b.opts.Mutes == nil {
		return false
	}
	muted, err := b.opts.Mutes.IsMuted(ctx, b.binding.GuildID, b.binding.ChannelID, speaker)
	if err != nil {
		logger.Warning("Mute lookup failed", "server", b.binding.Name, "speaker", speaker, "error", err)
		return false
	}
	return muted
}

// Relay sends a Discord message into the game chat. Messages refused by
// the word filter or the anti-spam limiter return ErrFiltered or
// ErrRateLimited and never reach the console.
func (b *Bridge) Relay(ctx context.Context, msg InboundMessage) error {
	content := msg.Content
	if b.opts.Filter != nil {
		filtered, ok := b.opts.Filter.Apply(content)
		if !ok {
			return ErrFiltered
		}
		content = filtered
	}

	if b.opts.Spam != nil {
		if result := b.opts.Spam.Check(msg.AuthorID, content); !result.Allowed {
			return fmt.Errorf("%w: %s, retry in %s", ErrRateLimited, result.Reason, result.Wait.Round(time.Second))
		}
	}

	return b.client.Send(ctx, FormatRelay(msg.AuthorName, content, b.opts.Limits))
}

// Notify posts text to the bound Discord channel.
func (b *Bridge) Notify(ctx context.Context, text string) error {
	return b.sender.SendMessage(ctx, b.binding.ChannelID, text)
}
