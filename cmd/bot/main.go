package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nantokaworks/giftdrop-bot/internal/discord"
	"github.com/nantokaworks/giftdrop-bot/internal/drop"
	"github.com/nantokaworks/giftdrop-bot/internal/env"
	"github.com/nantokaworks/giftdrop-bot/internal/localdb"
	"github.com/nantokaworks/giftdrop-bot/internal/scheduler"
	"github.com/nantokaworks/giftdrop-bot/internal/shared/logger"
	"github.com/nantokaworks/giftdrop-bot/internal/shared/paths"
	"github.com/nantokaworks/giftdrop-bot/internal/store"
	"github.com/nantokaworks/giftdrop-bot/internal/version"
	"github.com/nantokaworks/giftdrop-bot/internal/webserver"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	logger.Info("Starting giftdrop-bot", zap.String("version", version.String()))

	env.LoadEnv()
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	if err := paths.EnsureDataDirs(); err != nil {
		logger.Fatal("Failed to ensure data directories", zap.Error(err))
	}

	if _, err := localdb.SetupDB(paths.GetDBPath()); err != nil {
		logger.Fatal("Failed to setup history database", zap.Error(err))
	}

	st, err := store.Open(paths.GetStatePath())
	if err != nil {
		logger.Fatal("Failed to open state snapshot", zap.Error(err))
	}

	session, err := discord.NewSession(env.Value.DiscordToken)
	if err != nil {
		logger.Fatal("Failed to create Discord session", zap.Error(err))
	}

	presenter := discord.NewPresenter(session)
	engine := drop.NewEngine(st, presenter, drop.Options{
		Visibility: env.Value.DropVisibility,
		Validity:   env.Value.DropValidity,
	})

	bot := discord.NewBot(session, st, engine, presenter)
	sched := scheduler.New(st, bot.LaunchDrop,
		env.Value.AutoDropMinInterval, env.Value.AutoDropMaxInterval)
	bot.AttachScheduler(sched)

	if err := webserver.StartWebServer(st, env.Value.ServerPort); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	if err := bot.Start(); err != nil {
		logger.Fatal("Failed to connect to Discord", zap.Error(err))
	}

	// Pick up drops that were live when the previous process died.
	engine.RearmAll()
	engine.SweepExpired()

	sched.Start()

	logger.Info("giftdrop-bot is running",
		zap.Int("dashboard_port", env.Value.ServerPort))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	sched.Stop()
	bot.Stop()
	webserver.Shutdown()

	// One last snapshot so in-flight state lands on disk.
	if err := st.Save(); err != nil {
		logger.Warn("Final state save failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
