package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BTreeMap/GuiaIA/internal/actions"
	"github.com/BTreeMap/GuiaIA/internal/analytics"
	"github.com/BTreeMap/GuiaIA/internal/chat"
	"github.com/BTreeMap/GuiaIA/internal/clipboard"
	"github.com/BTreeMap/GuiaIA/internal/flow"
	"github.com/BTreeMap/GuiaIA/internal/terminal"
)

// MsgStartFailed is shown when the question bank cannot be loaded.
const MsgStartFailed = "No se pudieron cargar las preguntas. Revisa que el servidor de GuíaIA esté disponible."

func newChatCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Build a prompt in an interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cfg, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().BoolVar(&cfg.Animate, "animate", cfg.Animate, "type bot messages out gradually (overrides $GUIAIA_ANIMATE)")
	return cmd
}

// chatLogger sends logs to a rotating file in the state directory so they
// never land in the middle of the conversation.
func chatLogger(cfg *Config) (*slog.Logger, io.Closer) {
	if cfg.StateDir == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), io.NopCloser(nil)
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.StateDir, DefaultLogFileName),
		MaxSize:    5, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})
	return slog.New(handler), w
}

func runChat(ctx context.Context, cfg *Config, in io.Reader, out *os.File) error {
	logger, closer := chatLogger(cfg)
	defer closer.Close()
	slog.SetDefault(logger)

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

	var observer analytics.Observer = analytics.Nop{}
	queue, drain := startAnalytics(ctx, cfg, st, bc)
	defer drain()
	if queue != nil {
		deviceID, err := analytics.LoadOrCreateDeviceID(cfg.StateDir)
		if err != nil {
			slog.Warn("runChat: device id unavailable, using an ephemeral one", "error", err)
			deviceID, _ = analytics.LoadOrCreateDeviceID("")
		}
		tracker := analytics.NewTracker(deviceID, queue, analytics.WithUserAgent(userAgent))
		tracker.StartSession()
		defer tracker.EndSession()
		go tracker.RunHeartbeat(ctx, analytics.DefaultHeartbeatInterval)
		observer = tracker
	}

	screen := terminal.ScreenFor(out, cfg.Animate)
	log := chat.NewLog(screen)
	input := chat.NewLineInput()

	session := flow.NewSession(bc, log,
		flow.WithObserver(observer),
		flow.WithInput(input),
		flow.WithRecorder(st),
	)
	surface := actions.NewSurface(session, improver, log,
		actions.WithObserver(observer),
		actions.WithClipboard(clipboard.Default(out)),
		actions.WithAlerter(screen),
		actions.WithPresenter(screen),
	)
	session.SetRevealer(surface)

	slog.Info("runChat: starting", "backend", bc.BaseURL(), "improver", cfg.Improver, "analytics", queue != nil)
	console := terminal.NewConsole(session, surface, screen, input, in)
	if err := console.Run(ctx); err != nil {
		var fetchErr *flow.FetchError
		if errors.As(err, &fetchErr) {
			screen.Alert(MsgStartFailed)
		}
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}
