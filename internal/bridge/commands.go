package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lawnchairsociety/twbridge/internal/logger"
	"github.com/lawnchairsociety/twbridge/internal/store"
)

// MuteStore persists per-channel mute lists. *store.Store implements it.
type MuteStore interface {
	MuteChecker
	Mute(ctx context.Context, guildID, channelID, name, mutedBy string) error
	Unmute(ctx context.Context, guildID, channelID, name string) error
	List(ctx context.Context, guildID, channelID string) ([]store.Mute, error)
}

// command is a parsed moderation command.
type command struct {
	name string
	arg  string
}

// parseCommand recognizes !mute <name>, !unmute <name> and !muted.
func parseCommand(content string) (command, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "!") {
		return command{}, false
	}

	name, arg, _ := strings.Cut(content[1:], " ")
	name = strings.ToLower(name)
	switch name {
	case "mute", "unmute", "muted":
		return command{name: name, arg: strings.TrimSpace(arg)}, true
	default:
		return command{}, false
	}
}

// runCommand executes cmd for the channel of msg and returns the reply.
func runCommand(ctx context.Context, mutes MuteStore, msg InboundMessage, cmd command) (string, error) {
	switch cmd.name {
	case "mute":
		if cmd.arg == "" {
			return "Usage: !mute <name>", nil
		}
		err := mutes.Mute(ctx, msg.GuildID, msg.ChannelID, cmd.arg, msg.AuthorID)
		if errors.Is(err, store.ErrAlreadyMuted) {
			return fmt.Sprintf("%s is already muted.", cmd.arg), nil
		}
		if err != nil {
			return "", err
		}
		logger.Always("Player muted", "guild", msg.GuildID, "channel", msg.ChannelID, "player", cmd.arg, "by", msg.AuthorName)
		return fmt.Sprintf("Muted %s.", cmd.arg), nil

	case "unmute":
		if cmd.arg == "" {
			return "Usage: !unmute <name>", nil
		}
		err := mutes.Unmute(ctx, msg.GuildID, msg.ChannelID, cmd.arg)
		if errors.Is(err, store.ErrNotMuted) {
			return fmt.Sprintf("%s is not muted.", cmd.arg), nil
		}
		if err != nil {
			return "", err
		}
		logger.Always("Player unmuted", "guild", msg.GuildID, "channel", msg.ChannelID, "player", cmd.arg, "by", msg.AuthorName)
		return fmt.Sprintf("Unmuted %s.", cmd.arg), nil

	case "muted":
		list, err := mutes.List(ctx, msg.GuildID, msg.ChannelID)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "No muted players.", nil
		}
		names := make([]string, len(list))
		for i, m := range list {
			names[i] = m.Name
		}
		return "Muted players: " + strings.Join(names, ", "), nil
	}

	return "", fmt.Errorf("unknown command %q", cmd.name)
}
