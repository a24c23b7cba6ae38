package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/nantokaworks/giftdrop-bot/internal/types"
)

// Presenter renders drops as messages with one clickable button per box.
// It implements drop.Presenter.
type Presenter struct {
	session *discordgo.Session
}

// NewPresenter wraps a session as a drop presenter.
func NewPresenter(session *discordgo.Session) *Presenter {
	return &Presenter{session: session}
}

const dropAnnouncement = "🎁 **A gift drop has appeared!** Pick a box — %d of %d hold a real prize. One box per member!"

// Render posts the drop message and returns its message id.
func (p *Presenter) Render(channelID string, d *types.Drop) (string, error) {
	msg, err := p.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    fmt.Sprintf(dropAnnouncement, types.WinningSlotCount, types.SlotCount),
		Components: []discordgo.MessageComponent{buttonRow(d)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to render drop %s: %w", d.ID, err)
	}
	return msg.ID, nil
}

// DisableSlot re-renders the button row with every claimed slot disabled.
// Unclaimed boxes stay live even for members who already claimed elsewhere;
// their retries are rejected with an ephemeral reply instead.
func (p *Presenter) DisableSlot(channelID, messageID string, d *types.Drop, slot int) error {
	components := []discordgo.MessageComponent{buttonRow(d)}
	_, err := p.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         messageID,
		Channel:    channelID,
		Components: &components,
	})
	if err != nil {
		return fmt.Errorf("failed to update drop %s after claim: %w", d.ID, err)
	}
	return nil
}

// Teardown deletes the drop message.
func (p *Presenter) Teardown(channelID, messageID string) error {
	if err := p.session.ChannelMessageDelete(channelID, messageID); err != nil {
		return fmt.Errorf("failed to delete drop message %s: %w", messageID, err)
	}
	return nil
}

func buttonRow(d *types.Drop) discordgo.ActionsRow {
	buttons := make([]discordgo.MessageComponent, 0, types.SlotCount)
	for slot := 0; slot < types.SlotCount; slot++ {
		buttons = append(buttons, discordgo.Button{
			Label:    fmt.Sprintf("Box %d", slot+1),
			Style:    discordgo.PrimaryButton,
			CustomID: slotCustomID(d.ID, slot),
			Disabled: d.SlotClaimed(slot),
			Emoji:    &discordgo.ComponentEmoji{Name: "🎁"},
		})
	}
	return discordgo.ActionsRow{Components: buttons}
}
