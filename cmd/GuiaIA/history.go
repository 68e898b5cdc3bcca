package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/GuiaIA/internal/analytics"
	"github.com/BTreeMap/GuiaIA/internal/models"
	"github.com/BTreeMap/GuiaIA/internal/store"
)

// DefaultHistoryLimit is how many prompts `guiaia history` lists.
const DefaultHistoryLimit = 20

func newHistoryCmd(cfg *Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List prompts composed on this machine, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			return printHistory(cmd.OutOrStdout(), st, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", DefaultHistoryLimit, "number of prompts to list")
	return cmd
}

func printHistory(w io.Writer, st store.Store, limit int) error {
	records, err := st.ListPromptRecords(limit)
	if err != nil {
		return fmt.Errorf("list prompts: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "Todavía no hay prompts guardados.")
		return nil
	}
	heading := color.New(color.Bold)
	for _, r := range records {
		heading.Fprintf(w, "%s  %s", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"))
		if r.Scorecard != nil {
			fmt.Fprintf(w, "  Score %s/%s", models.FormatScore(r.Scorecard.Total), models.FormatScore(r.Scorecard.Max))
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, indent(r.Prompt))
		if r.ImprovedPrompt != "" {
			fmt.Fprintln(w, "  Mejorado:")
			fmt.Fprintln(w, indent(r.ImprovedPrompt))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}

func newOutboxCmd(cfg *Config) *cobra.Command {
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the queue of analytics events",
	}
	outbox.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Deliver queued analytics events now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.AppDSN() == "" {
				return fmt.Errorf("no outbox: set --state-dir or --db-dsn")
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			return flushOutbox(cmd.Context(), cmd.OutOrStdout(), st, analytics.SendFunc(newBackendClient(cfg)))
		},
	})
	return outbox
}

func flushOutbox(ctx context.Context, w io.Writer, repo store.OutboxRepo, send store.OutboxSendFunc) error {
	sender := store.NewOutboxSender(repo, send, 0)
	if err := sender.RecoverStaleMessages(); err != nil {
		return fmt.Errorf("recover outbox: %w", err)
	}
	sent, failed := sender.Flush(ctx)
	pending, err := repo.CountPendingOutboxMessages()
	if err != nil {
		return fmt.Errorf("count outbox: %w", err)
	}
	fmt.Fprintf(w, "sent=%d failed=%d pending=%d\n", sent, failed, pending)
	return nil
}
