package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
	"github.com/xkilldash9x/cartpilot-cli/internal/analyzer"
	"github.com/xkilldash9x/cartpilot-cli/internal/config"
	"github.com/xkilldash9x/cartpilot-cli/internal/events"
	"github.com/xkilldash9x/cartpilot-cli/internal/filters"
	"github.com/xkilldash9x/cartpilot-cli/internal/llmclient"
	"github.com/xkilldash9x/cartpilot-cli/internal/navigation"
	"github.com/xkilldash9x/cartpilot-cli/internal/observability"
	"github.com/xkilldash9x/cartpilot-cli/internal/orchestrator"
	"github.com/xkilldash9x/cartpilot-cli/internal/pageagent"
	"github.com/xkilldash9x/cartpilot-cli/internal/selection"
	"github.com/xkilldash9x/cartpilot-cli/internal/store"
)

// newBuyCmd creates and configures the `buy` command.
func newBuyCmd() *cobra.Command {
	buyCmd := &cobra.Command{
		Use:   "buy [query...]",
		Short: "Searches for a product and drives it to the checkout page",
		Long: `Buy opens a browser tab, searches the configured platform for the query,
applies the requested filters, selects the best-matching listing and navigates
it to checkout. The session stops at the checkout page; confirming payment is
left to you.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line flags override
			// values from the config file and environment variables.
			if err := viper.BindPFlag("purchase.platform", cmd.Flags().Lookup("platform")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			rawFilters, err := cmd.Flags().GetStringToString("filter")
			if err != nil {
				return err
			}
			strategy, err := cmd.Flags().GetString("strategy")
			if err != nil {
				return err
			}
			intent, err := buildIntent(args, cfg.Purchase.Platform, strategy, rawFilters)
			if err != nil {
				return err
			}

			sessionTimeout, err := cmd.Flags().GetDuration("session-timeout")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
			defer cancel()

			logger.Info("Starting purchase session",
				zap.String("query", intent.Query),
				zap.String("platform", cfg.Purchase.Platform),
				zap.Int("filters", intent.Filters.ActiveCount()),
			)

			components, err := initializePurchaseComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize purchase components: %w", err)
			}
			defer components.Shutdown()

			final, err := runSession(ctx, components, intent, logger)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return fmt.Errorf("purchase session aborted by user signal")
				}
				return err
			}

			fmt.Printf("\nSession %s finished in state %s.\n%s\n", final.ID, final.State, final.StatusNote)
			return nil
		},
	}

	buyCmd.Flags().StringP("platform", "p", "", "Site profile to use (e.g. 'amazon', 'flipkart'). (Overrides config/env)")
	buyCmd.Flags().StringP("strategy", "s", "relevant", "Ranking strategy: 'relevant', 'cheapest' or 'best_rated'.")
	buyCmd.Flags().StringToStringP("filter", "F", nil, "Product filter as key=value (e.g. -F brand=samsung -F price_max=20000). Repeatable.")
	buyCmd.Flags().Duration("session-timeout", 10*time.Minute, "Upper bound on the whole purchase session.")
	buyCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")

	return buyCmd
}

// buildIntent assembles and validates the purchase intent from command input.
func buildIntent(args []string, platform, strategy string, rawFilters map[string]string) (schemas.Intent, error) {
	intent := schemas.Intent{
		Query:        strings.TrimSpace(strings.Join(args, " ")),
		PlatformHint: platform,
		Filters:      schemas.FilterSet{},
	}
	if intent.Query == "" {
		return schemas.Intent{}, fmt.Errorf("query must not be empty")
	}

	switch schemas.RankingStrategy(strategy) {
	case schemas.RankRelevant, schemas.RankCheapest, schemas.RankBestRated:
		intent.RankingStrategy = schemas.RankingStrategy(strategy)
	default:
		return schemas.Intent{}, fmt.Errorf("unknown ranking strategy %q", strategy)
	}

	known := make(map[schemas.FilterKey]bool, len(schemas.FilterPriority))
	for _, k := range schemas.FilterPriority {
		known[k] = true
	}
	for key, value := range rawFilters {
		fk := schemas.FilterKey(strings.ToLower(strings.TrimSpace(key)))
		if !known[fk] {
			return schemas.Intent{}, fmt.Errorf("unknown filter key %q", key)
		}
		if v := strings.TrimSpace(value); v != "" {
			intent.Filters[fk] = v
		}
	}
	return intent, nil
}

// purchaseComponents holds initialized services for one purchase session.
type purchaseComponents struct {
	TabID        string
	Agent        *pageagent.CDPAgent
	Orchestrator *orchestrator.Orchestrator
	Bus          *events.Bus
	DBPool       *pgxpool.Pool

	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// Shutdown tears everything down in reverse dependency order.
func (pc *purchaseComponents) Shutdown() {
	if pc.Bus != nil {
		pc.Bus.Shutdown()
	}
	if pc.cancelTab != nil {
		pc.cancelTab()
	}
	if pc.cancelAlloc != nil {
		pc.cancelAlloc()
	}
	if pc.DBPool != nil {
		pc.DBPool.Close()
	}
}

// initializePurchaseComponents handles dependency injection.
func initializePurchaseComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*purchaseComponents, error) {
	components := &purchaseComponents{}

	// 1. Purchase history store (optional; empty URL disables persistence).
	var histStore schemas.HistoryStore
	if cfg.Database.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize history store: %w", err)
		}
		histStore = dbStore
	}

	// 2. Browser tab.
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Browser.Headless),
		chromedp.Flag("disable-cache", cfg.Browser.DisableCache),
	)
	if cfg.Browser.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.Browser.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.Browser.UserDataDir))
	}
	for _, arg := range cfg.Browser.Args {
		opts = append(opts, chromedp.Flag(strings.TrimPrefix(arg, "--"), true))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	components.cancelAlloc = cancelAlloc
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	components.cancelTab = cancelTab

	// Bootstrap the tab so its target exists before we bind anything to it.
	if err := chromedp.Run(tabCtx, page.Enable()); err != nil {
		return components, fmt.Errorf("failed to start browser tab: %w", err)
	}
	target := chromedp.FromContext(tabCtx).Target
	if target == nil {
		return components, fmt.Errorf("browser tab has no target")
	}
	components.TabID = string(target.TargetID)

	components.Agent = pageagent.NewCDPAgent(logger, tabCtx, pageagent.ProfileFor(cfg.Purchase.Platform))

	// 3. LLM escalation path.
	llmClient, err := llmclient.NewClient(cfg.Agent, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	pageAnalyzer := analyzer.New(logger, llmClient)

	// 4. Selection, filters, navigation.
	selector := selection.New(logger, pageAnalyzer)
	filterCoordinator := filters.New(logger, components.Agent, cfg.Purchase.FilterAttempts, cfg.Purchase.ActionTimeout)
	navController := navigation.New(logger, components.Agent, cfg.Purchase.NavSettleDelay, 3)

	// 5. Orchestrator and event bus.
	orch, err := orchestrator.New(logger, cfg.Purchase, components.Agent, pageAnalyzer, selector, filterCoordinator, navController, histStore)
	if err != nil {
		return components, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	components.Orchestrator = orch
	components.Bus = events.NewBus(logger, 64)

	wireBrowserEvents(tabCtx, components.Bus, components.TabID, logger)
	return components, nil
}

// wireBrowserEvents forwards top-frame load completions from the CDP stream
// onto the event bus. The listener callback must never block, so publishing
// happens on its own goroutine.
func wireBrowserEvents(tabCtx context.Context, bus *events.Bus, tabID string, logger *zap.Logger) {
	var mu sync.Mutex
	var lastURL string

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				mu.Lock()
				lastURL = e.Frame.URL
				mu.Unlock()
			}
		case *page.EventLoadEventFired:
			mu.Lock()
			url := lastURL
			mu.Unlock()
			go func() {
				publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				event := schemas.PageEvent{Kind: schemas.EventPageLoaded, TabID: tabID, URL: url}
				if err := bus.Publish(publishCtx, event); err != nil {
					logger.Debug("Dropped page load event", zap.Error(err))
				}
			}()
		}
	})
}

// runSession starts the purchase session and pumps bus events into the
// orchestrator until the session completes or the context expires.
func runSession(ctx context.Context, components *purchaseComponents, intent schemas.Intent, logger *zap.Logger) (schemas.Session, error) {
	sub, unsubscribe := components.Bus.Subscribe(schemas.EventPageLoaded)
	defer unsubscribe()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case envelope, ok := <-sub:
				if !ok {
					return nil
				}
				components.Orchestrator.HandleEvent(gCtx, envelope.Event)
			case <-components.Orchestrator.Done():
				return nil
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}
	})

	session, err := components.Orchestrator.StartSession(ctx, intent, components.TabID)
	if err != nil {
		unsubscribe()
		_ = g.Wait()
		return schemas.Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	logger.Info("Session started", zap.String("session_id", session.ID), zap.String("state", string(session.State)))

	select {
	case <-components.Orchestrator.Done():
	case <-ctx.Done():
		unsubscribe()
		_ = g.Wait()
		return components.Orchestrator.Session(), ctx.Err()
	}

	unsubscribe()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return components.Orchestrator.Session(), err
	}
	return components.Orchestrator.Session(), nil
}
