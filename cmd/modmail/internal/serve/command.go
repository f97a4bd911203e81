package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/modmail-bot/cmd/modmail/internal"
	"github.com/xaenox/modmail-bot/internal/bot"
	"github.com/xaenox/modmail-bot/internal/classifier"
	"github.com/xaenox/modmail-bot/internal/lifecycle"
	"github.com/xaenox/modmail-bot/internal/mute"
	"github.com/xaenox/modmail-bot/internal/platform"
	"github.com/xaenox/modmail-bot/internal/platform/discord"
	"github.com/xaenox/modmail-bot/internal/platform/telegram"
	"github.com/xaenox/modmail-bot/internal/prompt"
	"github.com/xaenox/modmail-bot/internal/relay"
	"github.com/xaenox/modmail-bot/internal/sweep"
	"github.com/xaenox/modmail-bot/pkg/config"
)

const minKeywordScore = 1

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the chat platforms and relay conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateTransports(); err != nil {
				return err
			}
			logger, err := internal.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := internal.OpenStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	dc, err := discord.New(discord.Config{
		Token:     cfg.Discord.Token,
		GuildID:   cfg.Discord.GuildID,
		IgnoreDMs: cfg.Private.Transport == config.TransportTelegram,
	}, logger)
	if err != nil {
		return err
	}
	staff := dc.Staff()

	var (
		private platform.PrivateChannels = dc.Private()
		tg      *telegram.Client
	)
	if cfg.Private.Transport == config.TransportTelegram {
		tg, err = telegram.New(cfg.Telegram.Token, logger)
		if err != nil {
			return err
		}
		private = tg
	}

	hub := prompt.NewHub()
	selector := prompt.NewSelector(hub, store, cfg.Modmail.SelectionTimeout, logger)
	confirmer := prompt.NewConfirmer(hub, cfg.Modmail.SelectionTimeout, logger)
	engine := relay.NewEngine(store, staff, private, relay.Options{CommandPrefix: cfg.Modmail.CommandPrefix}, logger)
	guard := mute.NewGuard(store, logger)

	var triage classifier.Classifier = classifier.NewSimpleClassifier(minKeywordScore)
	if cfg.OpenAI.APIKey != "" {
		triage = classifier.NewGPTClassifier(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature, logger)
	}

	service := lifecycle.NewService(store, staff, private, selector, engine, lifecycle.Options{
		CreateGrace:  cfg.Modmail.CreateGrace,
		CloseGrace:   cfg.Modmail.CloseGrace,
		ForwardGrace: cfg.Modmail.ForwardGrace,
		Admins:       cfg.Modmail.Admins,
	}, logger).WithGate(guard).WithTriage(triage)

	b := bot.New(bot.Deps{
		Lifecycle: service,
		Relay:     engine,
		Mutes:     guard,
		Hub:       hub,
		Confirmer: confirmer,
		Staff:     staff,
		Private:   private,
	}, bot.Options{
		Prefix:     cfg.Modmail.CommandPrefix,
		GroupID:    cfg.Discord.GuildID,
		Admins:     cfg.Modmail.Admins,
		StaffRoles: cfg.Modmail.StaffRoles,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	sources := []<-chan platform.Event{dc.Events()}
	g.Go(func() error { return dc.Start(gctx) })
	if tg != nil {
		sources = append(sources, tg.Events())
		g.Go(func() error { return tg.Start(gctx) })
	}
	g.Go(func() error { return b.Start(gctx, bot.Merge(gctx, sources...)) })

	if cfg.Sweep.Enabled {
		sweeper, err := sweep.New(store, staff, staff, cfg.Discord.AlertChannelID, cfg.Sweep.Schedule, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return sweeper.Run(gctx) })
	}

	logger.Info("Modmail started",
		zap.String("private_transport", cfg.Private.Transport),
		zap.Bool("sweep", cfg.Sweep.Enabled))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Modmail stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Modmail stopped")
	return nil
}
