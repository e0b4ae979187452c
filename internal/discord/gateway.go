package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/lawnchairsociety/twbridge/internal/bridge"
	"github.com/lawnchairsociety/twbridge/internal/logger"
)

// ErrFatalClose means Discord rejected the session in a way retrying cannot fix.
var ErrFatalClose = errors.New("discord: gateway closed with fatal code")

// Close codes after which reconnecting is pointless: bad token, bad shard,
// sharding required, bad API version, bad or disallowed intents.
var fatalCloseCodes = map[int]bool{
	4004: true,
	4010: true,
	4011: true,
	4012: true,
	4013: true,
	4014: true,
}

func isFatalClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && fatalCloseCodes[ce.Code]
}

// Run opens the gateway, retrying with backoff until it succeeds, and then
// delivers events to h until ctx is cancelled. Once open, discordgo resumes
// or re-identifies on its own. A fatal close code ends Run with ErrFatalClose.
func (c *Client) Run(ctx context.Context, h Handler) error {
	removeReady := c.session.AddHandler(readyHandler(ctx, h))
	removeMessage := c.session.AddHandler(messageHandler(ctx, h))
	defer removeReady()
	defer removeMessage()

	for attempt := 1; ; attempt++ {
		err := c.session.Open()
		if err == nil {
			break
		}
		if isFatalClose(err) {
			return fmt.Errorf("%w: %v", ErrFatalClose, err)
		}
		logger.Warning("Discord gateway connection failed", "attempt", attempt, "retry_in", c.opts.Backoff, "error", err)

		timer := time.NewTimer(c.opts.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
	logger.Info("Discord gateway connected")

	<-ctx.Done()
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("discord: close gateway: %w", err)
	}
	return nil
}

func readyHandler(ctx context.Context, h Handler) func(*discordgo.Session, *discordgo.Ready) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User == nil {
			return
		}
		logger.Info("Discord session ready", "user", r.User.Username, "id", r.User.ID)
		h.OnReady(ctx, r.User.ID)
	}
}

// messageHandler forwards guild messages; direct messages have no guild and
// are dropped. User mentions arrive as @username rather than raw <@id> tags.
func messageHandler(ctx context.Context, h Handler) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil || m.GuildID == "" {
			return
		}
		h.OnChannelMessage(ctx, bridge.InboundMessage{
			GuildID:    m.GuildID,
			ChannelID:  m.ChannelID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			Content:    m.ContentWithMentionsReplaced(),
		})
	}
}
