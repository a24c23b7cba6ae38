package discord

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nantokaworks/giftdrop-bot/internal/drop"
	"github.com/nantokaworks/giftdrop-bot/internal/env"
	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"github.com/nantokaworks/giftdrop-bot/internal/types"
	"go.uber.org/zap"
)

// onInteractionCreate routes every inbound interaction. A panic while
// handling one interaction is contained to that interaction: it is logged
// and reported generically, never allowed to crash the process.
func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic in interaction handler", zap.Any("panic", r))
			b.replyEphemeral(i, "Something went wrong handling that. Try again in a moment.")
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(i)
	}
}

func (b *Bot) handleCommand(i *discordgo.InteractionCreate) {
	switch i.ApplicationCommandData().Name {
	case "count":
		b.handleCount(i)
	case "leaderboard":
		b.handleLeaderboard(i)
	case "drop":
		b.handleForceDrop(i)
	case "dropchannel":
		b.handleDropChannel(i)
	case "resetcounts":
		b.handleResetCounts(i)
	case "autodrop":
		b.handleAutoDrop(i)
	case "timeout":
		b.handleTimeout(i)
	}
}

func (b *Bot) handleComponent(i *discordgo.InteractionCreate) {
	dropID, slot, ok := parseSlotCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	userID := interactionUserID(i)
	if userID == "" {
		return
	}

	result, err := b.engine.Claim(dropID, slot, userID)
	if err != nil {
		b.replyEphemeral(i, claimRejectionMessage(err))
		return
	}

	switch result.Outcome {
	case types.OutcomePrize:
		b.reply(i, fmt.Sprintf("🎉 <@%s> opened Box %d and found a gift! They now have **%d**.",
			userID, slot+1, result.NewCount))
	case types.OutcomeTrollbox:
		b.reply(i, fmt.Sprintf("📦 <@%s> opened Box %d... it was a trollbox! 🤡", userID, slot+1))
		b.assignPenaltyRole(i.GuildID, userID)
	}
}

// claimRejectionMessage maps the expected claim outcomes onto user-facing
// replies. None of these are failures.
func claimRejectionMessage(err error) string {
	switch {
	case errors.Is(err, drop.ErrDropNotFound):
		return "That drop is gone."
	case errors.Is(err, drop.ErrDropExpired):
		return "Too slow — that drop has expired."
	case errors.Is(err, drop.ErrSlotAlreadyClaimed):
		return "Someone already grabbed that box."
	case errors.Is(err, drop.ErrMemberAlreadyClaimed):
		return "You already took a box from this drop. One per member!"
	case errors.Is(err, drop.ErrInvalidSlot):
		return "That box doesn't exist."
	default:
		logger.Error("Unexpected claim error", zap.Error(err))
		return "Something went wrong claiming that box."
	}
}

func (b *Bot) handleCount(i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)
	count := b.store.Tally(userID)
	b.replyEphemeral(i, fmt.Sprintf("You've collected **%d** gift%s.", count, plural(count)))
}

func (b *Bot) handleLeaderboard(i *discordgo.InteractionCreate) {
	entries := b.store.TopTallies(20)
	if len(entries) == 0 {
		b.reply(i, "Nobody has collected a gift yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🏆 **Gift Leaderboard**\n")
	for rank, e := range entries {
		fmt.Fprintf(&sb, "%d. <@%s> — %d\n", rank+1, e.UserID, e.Count)
	}
	b.reply(i, sb.String())
}

func (b *Bot) handleForceDrop(i *discordgo.InteractionCreate) {
	if i.Member == nil || i.Member.Permissions&discordgo.PermissionManageServer == 0 {
		b.replyEphemeral(i, "You don't have permission to force a drop.")
		return
	}

	if err := b.LaunchDrop(i.ChannelID); err != nil {
		logger.Error("Forced drop failed", zap.String("channel_id", i.ChannelID), zap.Error(err))
		b.replyEphemeral(i, "Couldn't start a drop here.")
		return
	}
	b.replyEphemeral(i, "Drop incoming! 🎁")
}

func (b *Bot) handleDropChannel(i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)
	if !b.isOwner(userID) {
		b.replyEphemeral(i, "Only the bot owner can set the drop channel.")
		return
	}

	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		b.replyEphemeral(i, "Pick a channel.")
		return
	}
	channel := options[0].ChannelValue(b.session)
	if channel == nil {
		b.replyEphemeral(i, "Pick a channel.")
		return
	}

	settings := b.store.Settings()
	settings.DropChannelID = channel.ID
	if err := b.store.SetSettings(settings); err != nil {
		logger.Warn("Failed to persist drop channel", zap.Error(err))
	}

	b.replyEphemeral(i, fmt.Sprintf("Automatic drops will land in <#%s>.", channel.ID))
}

func (b *Bot) handleResetCounts(i *discordgo.InteractionCreate) {
	if !b.isOwner(interactionUserID(i)) {
		b.replyEphemeral(i, "Only the bot owner can reset counts.")
		return
	}

	if err := b.store.ResetTallies(); err != nil {
		logger.Warn("Failed to persist tally reset", zap.Error(err))
	}
	// A full reset also clears any drops still on the board.
	b.engine.RemoveAll()
	b.reply(i, "All gift counts have been reset. Fresh start! ✨")
}

func (b *Bot) handleAutoDrop(i *discordgo.InteractionCreate) {
	if !b.isOwner(interactionUserID(i)) {
		b.replyEphemeral(i, "Only the bot owner can toggle automatic drops.")
		return
	}

	enabled := b.store.ToggleAutoDrop()
	if enabled {
		// Arm the scheduler on the disabled-to-enabled transition; Start is
		// a no-op when it is already armed.
		if b.scheduler != nil {
			b.scheduler.Start()
		}
		b.replyEphemeral(i, "Automatic drops are **on**.")
		return
	}
	b.replyEphemeral(i, "Automatic drops are **off**.")
}

func (b *Bot) handleTimeout(i *discordgo.InteractionCreate) {
	if i.Member == nil || i.Member.Permissions&discordgo.PermissionModerateMembers == 0 {
		b.replyEphemeral(i, "You don't have permission to time members out.")
		return
	}

	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		b.replyEphemeral(i, "Pick a member.")
		return
	}
	target := options[0].UserValue(b.session)
	if target == nil {
		b.replyEphemeral(i, "Pick a member.")
		return
	}

	outranks, err := b.actorOutranksTarget(i.GuildID, i.Member, target.ID)
	if err != nil {
		logger.Error("Failed to check role hierarchy", zap.Error(err))
		b.replyEphemeral(i, "Couldn't check role hierarchy, not timing anyone out.")
		return
	}
	if !outranks {
		b.replyEphemeral(i, "You can't time out someone at or above your rank.")
		return
	}

	until := time.Now().Add(env.Value.TimeoutDuration)
	if err := b.session.GuildMemberTimeout(i.GuildID, target.ID, &until); err != nil {
		logger.Error("Failed to apply timeout",
			zap.String("target_id", target.ID), zap.Error(err))
		b.replyEphemeral(i, "Couldn't apply the timeout.")
		return
	}

	b.reply(i, fmt.Sprintf("🔇 <@%s> has been timed out for %s.", target.ID, env.Value.TimeoutDuration))
}

// actorOutranksTarget reports whether the acting member's highest role sits
// strictly above the target's highest role.
func (b *Bot) actorOutranksTarget(guildID string, actor *discordgo.Member, targetID string) (bool, error) {
	target, err := b.session.GuildMember(guildID, targetID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch target member: %w", err)
	}

	roles, err := b.session.GuildRoles(guildID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch guild roles: %w", err)
	}
	positions := make(map[string]int, len(roles))
	for _, r := range roles {
		positions[r.ID] = r.Position
	}

	return highestRolePosition(actor.Roles, positions) > highestRolePosition(target.Roles, positions), nil
}

func highestRolePosition(roleIDs []string, positions map[string]int) int {
	highest := -1
	for _, id := range roleIDs {
		if pos, ok := positions[id]; ok && pos > highest {
			highest = pos
		}
	}
	return highest
}

// assignPenaltyRole gives the claimant the trollbox role. Cosmetic and
// best-effort; tallies are never affected.
func (b *Bot) assignPenaltyRole(guildID, userID string) {
	if env.Value.PenaltyRoleID == "" || guildID == "" {
		return
	}
	if err := b.session.GuildMemberRoleAdd(guildID, userID, env.Value.PenaltyRoleID); err != nil {
		logger.Warn("Failed to assign penalty role",
			zap.String("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) reply(i *discordgo.InteractionCreate, content string) {
	b.respond(i, content, 0)
}

func (b *Bot) replyEphemeral(i *discordgo.InteractionCreate, content string) {
	b.respond(i, content, discordgo.MessageFlagsEphemeral)
}

func (b *Bot) respond(i *discordgo.InteractionCreate, content string, flags discordgo.MessageFlags) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		logger.Warn("Failed to respond to interaction", zap.Error(err))
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
