package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fatih/color"

	"github.com/imAETHER/FormVerifier/app/config"
	"github.com/imAETHER/FormVerifier/app/controllers"
	"github.com/imAETHER/FormVerifier/app/directory"
	"github.com/imAETHER/FormVerifier/app/logging"
	"github.com/imAETHER/FormVerifier/app/verification"
)

// The form script posts to a fixed port on every interface.
const listenAddr = "0.0.0.0:5000"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("Verifier stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	color.Cyan("[i] Setting up..")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	discord, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	discord.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	engine := verification.NewEngine(directory.NewDiscord(discord), cfg.GuildSnowflake(), cfg.VerifiedRoleName)
	bot := controllers.NewDiscordController(cfg, engine)
	bot.Attach(discord)

	if err := discord.Open(); err != nil {
		return fmt.Errorf("couldn't create websocket to discord: %w", err)
	}
	defer func() {
		if err := discord.Close(); err != nil {
			slog.Warn("Failed to close discord session", slog.Any("err", err))
		}
	}()

	// The webhook needs a resolvable guild, so it only starts once the
	// gateway has delivered Ready.
	ready, err := waitForGateway(ctx, bot.WaitReady, cfg.ReadyTimeout)
	if err != nil {
		return err
	}
	if !ready {
		slog.Info("Shutdown signal received before the bot was ready")
		return nil
	}

	bot.RegisterCommands(discord)

	app := controllers.NewApp(controllers.NewWebController(engine, cfg.GuildID, cfg.VerifiedRoleName, bot.Ready))

	listenErr := make(chan error, 1)
	go func() {
		color.Cyan("[i] Starting WebServer on " + listenAddr)
		listenErr <- app.Listen(listenAddr)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Verifier stopped cleanly")
	return nil
}

// waitForGateway waits up to timeout for wait to succeed. A cancelled ctx
// (shutdown signal) is a clean stop and reports ready=false without an error.
func waitForGateway(ctx context.Context, wait func(context.Context) error, timeout time.Duration) (bool, error) {
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := wait(readyCtx)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return false, nil
	}
	return false, err
}
