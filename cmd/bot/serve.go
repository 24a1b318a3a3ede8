package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"techlab-bot/config"
	"techlab-bot/internal/bot"
	"techlab-bot/internal/crm"
	"techlab-bot/internal/db"
	"techlab-bot/internal/gpt"
	"techlab-bot/internal/locale"
	"techlab-bot/internal/payment"
	"techlab-bot/internal/server"
	"techlab-bot/internal/session"
	"techlab-bot/internal/web"
	"techlab-bot/pkg/logger"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = l.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, l, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before starting")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger, migrate bool) error {
	l.Infow("Starting TechLab bot", "version", Version, "environment", cfg.Environment)

	if migrate {
		if err := db.RunMigrations(cfg.DB.URL(), l); err != nil {
			return err
		}
	}

	database, err := connectDB(cfg.DB, l)
	if err != nil {
		return err
	}
	defer database.Close()

	texts, err := locale.Load()
	if err != nil {
		return fmt.Errorf("failed to load texts: %w", err)
	}

	stripeClient := payment.NewStripeClient(cfg.Stripe)
	crmService := crm.NewService(database, stripeClient, cfg.Stripe.Currency, l)

	var consultant bot.Consultant
	if cfg.ConsultantEnabled() {
		consultant = gpt.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model)
	} else {
		l.Infow("GPT API key is not configured, consultant disabled")
	}

	telegramBot, err := bot.NewTelegramBot(cfg.Telegram.Token, bot.Options{
		CRM:         crmService,
		Verifier:    stripeClient,
		Sessions:    session.NewMemoryStore(),
		Texts:       texts,
		Consultant:  consultant,
		FrontendURL: cfg.Server.FrontendURL,
		Logger:      l,
	})
	if err != nil {
		return err
	}

	pages, err := web.NewHandler(crmService, stripeClient, stripeClient.PublishableKey(), l)
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}

	var credentials map[string]string
	if cfg.CRMAuthEnabled() {
		credentials = map[string]string{cfg.CRM.Username: cfg.CRM.Password}
	} else {
		l.Warnw("CRM dashboard is not protected, set CRM_USERNAME and CRM_PASSWORD")
	}

	httpServer := server.NewServer(server.Options{
		Port:           cfg.Server.Port,
		Version:        Version,
		Webhook:        telegramBot.HandleStripeWebhook,
		Web:            pages,
		CRMCredentials: credentials,
		Logger:         l,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := telegramBot.Start(gctx); err != nil {
			return err
		}
		l.Infow("Telegram bot started successfully")
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Infow("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Stop HTTP server first
		if err := httpServer.Stop(shutdownCtx); err != nil {
			l.Errorw("Error during HTTP server shutdown", "error", err)
		}
		// Then stop bot
		if err := telegramBot.Stop(shutdownCtx); err != nil {
			l.Errorw("Error during bot shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	l.Infow("Bot stopped successfully")
	return nil
}
