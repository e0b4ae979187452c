package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lawnchairsociety/twbridge/internal/econ"
)

// SendMessage posts content to a channel with every mention type disabled, so
// relayed game chat can never ping @everyone, roles or users. Rate limits are
// waited out by discordgo.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: econ.Truncate(content, MaxMessageLength),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send to channel %s: %w", channelID, err)
	}
	return nil
}
