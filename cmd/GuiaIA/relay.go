package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/GuiaIA/internal/analytics"
	"github.com/BTreeMap/GuiaIA/internal/api"
	"github.com/BTreeMap/GuiaIA/internal/lockfile"
	"github.com/BTreeMap/GuiaIA/internal/messaging"
	"github.com/BTreeMap/GuiaIA/internal/twiliowhatsapp"
	"github.com/BTreeMap/GuiaIA/internal/whatsapp"
)

func newRelayCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run GuíaIA conversations over WhatsApp, one per sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.RelayChannel, "channel", cfg.RelayChannel, "messaging channel: whatsapp or twilio (overrides $RELAY_CHANNEL)")
	f.StringVar(&cfg.RelayAddr, "addr", cfg.RelayAddr, "HTTP listen address for health and webhooks (overrides $RELAY_ADDR)")
	f.StringVar(&cfg.WhatsAppDSN, "whatsapp-db-dsn", cfg.WhatsAppDSN, "whatsmeow session database (overrides $WHATSAPP_DB_DSN)")
	f.StringVar(&cfg.QROutput, "qr-output", cfg.QROutput, "path to write the login QR code")
	f.BoolVar(&cfg.NumericCode, "numeric-code", cfg.NumericCode, "print the raw login code instead of a QR code")
	f.StringVar(&cfg.TwilioPublicURL, "twilio-webhook-url", cfg.TwilioPublicURL, "public webhook URL Twilio signs (overrides $TWILIO_WEBHOOK_URL)")
	f.IntVar(&cfg.MaxConversations, "max-conversations", cfg.MaxConversations, "conversations kept in memory (overrides $RELAY_MAX_CONVERSATIONS)")
	return cmd
}

func initRelayLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// newMessagingService connects the configured channel. It also returns the
// server routes the channel needs and a cleanup that disconnects it.
func newMessagingService(ctx context.Context, cfg *Config) (messaging.Service, []api.Option, func(), error) {
	switch strings.ToLower(cfg.RelayChannel) {
	case ChannelWhatsApp:
		opts := []whatsapp.Option{
			whatsapp.WithDBDSN(cfg.WhatsAppSessionDSN()),
			whatsapp.WithLogLevel(strings.ToUpper(cfg.LogLevel)),
		}
		if cfg.QROutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(cfg.QROutput))
		}
		if cfg.NumericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("whatsapp: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, client.Disconnect, nil

	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("twilio: %w", err)
		}
		validator := twiliowhatsapp.NewSignatureValidator(os.Getenv("TWILIO_AUTH_TOKEN"), cfg.TwilioPublicURL)
		svc := messaging.NewTwilioService(client, messaging.WithSignatureValidator(validator))
		return svc, []api.Option{api.WithTwilioWebhook(svc.TwilioWebhookHandler)}, func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown channel %q (want %s or %s)", cfg.RelayChannel, ChannelWhatsApp, ChannelTwilio)
	}
}

func runRelay(ctx context.Context, cfg *Config) error {
	initRelayLogger(cfg.LogLevel)

	lock, err := lockfile.AcquireLock(cfg.StateDir, "relay")
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	bc := newBackendClient(cfg)
	improver, err := buildImprover(cfg, bc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc, routes, disconnect, err := newMessagingService(ctx, cfg)
	if err != nil {
		return err
	}
	defer disconnect()

	relayOpts := []messaging.RelayOption{
		messaging.WithMaxConversations(cfg.MaxConversations),
		messaging.WithRecorder(st),
	}
	queue, drain := startAnalytics(ctx, cfg, st, bc)
	defer drain()
	if queue != nil {
		relayOpts = append(relayOpts, messaging.WithObserverFactory(func(sender string) analytics.Observer {
			tracker := analytics.NewTracker(analytics.DeviceIDForSender(sender), queue, analytics.WithUserAgent(userAgent))
			tracker.StartSession()
			return tracker
		}))
	}

	relay, err := messaging.NewRelay(svc, bc, improver, relayOpts...)
	if err != nil {
		return err
	}
	defer relay.Close()

	serverOpts := append([]api.Option{api.WithAddr(cfg.RelayAddr), api.WithChannel(cfg.RelayChannel)}, routes...)
	server := api.NewServer(relay, serverOpts...)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(ctx)
		cancel()
	}()

	slog.Info("runRelay: relay running", "channel", cfg.RelayChannel, "addr", cfg.RelayAddr, "backend", bc.BaseURL())
	if err := relay.Run(ctx); err != nil {
		cancel()
		<-serverErr
		return err
	}
	if err := svc.Stop(); err != nil {
		slog.Warn("runRelay: messaging service stop failed", "error", err)
	}
	cancel()
	return <-serverErr
}
