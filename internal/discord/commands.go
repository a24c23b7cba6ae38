package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/nantokaworks/giftdrop-bot/internal/env"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	manageServer := int64(discordgo.PermissionManageServer)
	moderateMembers := int64(discordgo.PermissionModerateMembers)

	return []*discordgo.ApplicationCommand{
		{
			Name:        "count",
			Description: "Show how many gifts you've collected",
		},
		{
			Name:        "leaderboard",
			Description: "Show the top gift collectors",
		},
		{
			Name:                     "drop",
			Description:              "Force a gift drop in this channel",
			DefaultMemberPermissions: &manageServer,
		},
		{
			Name:        "dropchannel",
			Description: "Set the channel for automatic gift drops (owner only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel to drop gifts in",
					Required:    true,
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
				},
			},
		},
		{
			Name:        "resetcounts",
			Description: "Reset every member's gift count (owner only)",
		},
		{
			Name:        "autodrop",
			Description: "Toggle automatic gift drops (owner only)",
		},
		{
			Name:                     "timeout",
			Description:              "Put a member in timeout for a bit",
			DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "Member to time out",
					Required:    true,
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	appID := b.session.State.User.ID
	_, err := b.session.ApplicationCommandBulkOverwrite(appID, env.Value.GuildID, commandDefinitions())
	if err != nil {
		return fmt.Errorf("failed to overwrite application commands: %w", err)
	}
	return nil
}
