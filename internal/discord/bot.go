package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/nantokaworks/giftdrop-bot/internal/drop"
	"github.com/nantokaworks/giftdrop-bot/internal/env"
	"github.com/nantokaworks/giftdrop-bot/internal/scheduler"
	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"github.com/nantokaworks/giftdrop-bot/internal/store"
	"go.uber.org/zap"
)

// Bot is the command surface: it maps inbound slash commands and button
// interactions onto the drop engine and the store.
type Bot struct {
	session   *discordgo.Session
	store     *store.Store
	engine    *drop.Engine
	presenter *Presenter
	scheduler *scheduler.Scheduler
}

// NewSession builds a configured Discord session without opening it.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	return session, nil
}

// NewBot wires the command surface onto an existing session and engine.
func NewBot(session *discordgo.Session, st *store.Store, engine *drop.Engine, presenter *Presenter) *Bot {
	return &Bot{
		session:   session,
		store:     st,
		engine:    engine,
		presenter: presenter,
	}
}

// AttachScheduler hands the bot the auto-drop scheduler so the admin
// commands can arm it.
func (b *Bot) AttachScheduler(s *scheduler.Scheduler) {
	b.scheduler = s
}

// Start registers handlers and opens the gateway connection.
func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteractionCreate)
	b.session.AddHandler(b.onMessageCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() {
	if err := b.session.Close(); err != nil {
		logger.Warn("Failed to close Discord session", zap.Error(err))
	}
}

// LaunchDrop creates a drop, renders it, and records the message ref. Both
// the scheduler and the force-drop command funnel through here.
func (b *Bot) LaunchDrop(channelID string) error {
	d, err := b.engine.CreateDrop(channelID)
	if err != nil {
		return fmt.Errorf("failed to create drop: %w", err)
	}

	messageID, err := b.presenter.Render(channelID, d)
	if err != nil {
		// The drop stays claimable until its validity timer; only the
		// rendering is missing.
		return err
	}
	b.engine.AttachMessage(d.ID, messageID)
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	logger.Info("Discord bot logged in",
		zap.String("username", event.User.Username),
		zap.String("user_id", event.User.ID))

	if err := b.registerCommands(); err != nil {
		logger.Error("Failed to register slash commands", zap.Error(err))
	}
}

// onMessageCreate is the chat-reply trigger: mentioning the bot gets a
// short usage reply.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || s.State.User == nil {
		return
	}
	for _, mention := range m.Mentions {
		if mention.ID != s.State.User.ID {
			continue
		}
		reply := fmt.Sprintf("🎁 I run gift drops! You've collected **%d** so far — try `/count` or `/leaderboard`.",
			b.store.Tally(m.Author.ID))
		if _, err := s.ChannelMessageSendReply(m.ChannelID, reply, m.Reference()); err != nil {
			logger.Warn("Failed to send mention reply", zap.Error(err))
		}
		return
	}
}

func (b *Bot) isOwner(userID string) bool {
	return env.Value.OwnerUserID != "" && userID == env.Value.OwnerUserID
}
