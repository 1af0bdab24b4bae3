// File: cmd/history.go
package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/cartpilot-cli/internal/config"
	"github.com/xkilldash9x/cartpilot-cli/internal/observability"
	"github.com/xkilldash9x/cartpilot-cli/internal/store"
)

// historyStore is the slice of the store the history command needs. The
// abstraction allows tests to inject a fake instead of a live database.
type historyStore interface {
	RecentSessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
}

// historyStoreProvider creates a historyStore along with a cleanup function.
type historyStoreProvider interface {
	Create(ctx context.Context, cfg *config.Config) (historyStore, func(), error)
}

// defaultHistoryStoreProvider connects to the real PostgreSQL database.
type defaultHistoryStoreProvider struct{}

func (p *defaultHistoryStoreProvider) Create(ctx context.Context, cfg *config.Config) (historyStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (CARTPILOT_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed (via history cleanup).")
	}
	return storeService, cleanup, nil
}

// newHistoryCmd creates and configures the `history` command.
func newHistoryCmd() *cobra.Command {
	return newHistoryCmdWithProvider(&defaultHistoryStoreProvider{})
}

func newHistoryCmdWithProvider(provider historyStoreProvider) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recently recorded purchase sessions",
		Long: `History reads the purchase session records persisted by the buy command
and prints the most recent ones, newest first. Requires the database to be
configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			histStore, cleanup, err := provider.Create(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := histStore.RecentSessions(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to load purchase history: %w", err)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No purchase sessions recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPLATFORM\tSTATE\tQUERY\tOUTCOME")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Format("2006-01-02 15:04"), r.Platform, r.State, r.Query, r.StatusNote)
			}
			return w.Flush()
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list.")
	return historyCmd
}
