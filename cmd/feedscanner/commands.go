package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"FeedScanner/internal/app"
	"FeedScanner/internal/domain"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return ctx.withApp(runCtx, func(a *app.Application) error {
				out := a.RunOnce(runCtx)
				fmt.Fprintln(cmd.OutOrStdout(), out.String())
				if out.Status == domain.RunFailed {
					return errors.New("run failed")
				}
				return nil
			})
		},
	}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion passes on the configured schedule",
		Long:  "Run ingestion passes on the configured schedule. SIGUSR1 starts an extra pass unless one is in flight.",
		RunE: func(cmd *cobra.Command, args []string) error {
			serveCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			usr1 := make(chan os.Signal, 1)
			signal.Notify(usr1, syscall.SIGUSR1)
			defer signal.Stop(usr1)

			triggers := make(chan struct{}, 1)
			if runNow {
				triggers <- struct{}{}
			}
			go func() {
				for {
					select {
					case <-serveCtx.Done():
						return
					case <-usr1:
						select {
						case triggers <- struct{}{}:
						default:
						}
					}
				}
			}()

			return ctx.withApp(serveCtx, func(a *app.Application) error {
				return a.Serve(serveCtx, triggers)
			})
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Start a pass immediately instead of waiting for the schedule")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a run is in progress and when the next one is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				st, err := a.Status()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Processing: %s\n", yesNo(st.Processing || st.LockHeld))
				fmt.Fprintf(out, "Schedule:   %s (%s)\n", st.Schedule, st.Timezone)
				if !st.NextRun.IsZero() {
					fmt.Fprintf(out, "Next run:   %s\n", st.NextRun.Format(time.RFC3339))
				}
				fmt.Fprintf(out, "Database:   %s\n", st.Driver)
				return err
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				removed, err := a.ClearAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d items\n", removed)
				return nil
			})
		},
	}
}

func newItemsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List the most recently ingested items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				items, err := a.Items(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No items stored")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderItems(items))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of items to show (0 for all)")
	return cmd
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the configured sources and categories into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				sources, categories, err := a.Seed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d sources and %d categories\n", sources, categories)
				return nil
			})
		},
	}
}

func renderItems(items []domain.Item) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		category := item.CategoryName
		if category == "" {
			category = "-"
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			item.IngestedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(item.RelevancyScore),
			category,
			truncate(item.Title, 60),
			item.URL,
		})
	}
	return renderTable(
		[]string{"ID", "Ingested", "Score", "Category", "Title", "URL"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight},
	)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
