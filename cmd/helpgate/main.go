package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/helpgate/pkg/config"
	"github.com/zen-systems/helpgate/pkg/faq"
	"github.com/zen-systems/helpgate/pkg/logger"
	"github.com/zen-systems/helpgate/pkg/policy"
	"github.com/zen-systems/helpgate/pkg/router"
	"github.com/zen-systems/helpgate/pkg/server"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "helpgate",
		Short: "Customer-support message router with FAQ matching and escalation rules",
		Long: `Helpgate answers customer messages from a curated FAQ when it can,
	falls back to a language model when it cannot, and decides whether a
	human agent should take over.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.helpgate/config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(faqCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves the chat API until interrupted.

	Send SIGHUP to reload the FAQ from its configured source.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []server.Option{
				server.WithAddr(cfg.Server.Addr),
				server.WithLogger(log),
				server.WithRateLimit(server.RateLimitConfig{
					Rate:          cfg.Server.RateLimit,
					Prefix:        "helpgate:ratelimit:",
					Redis:         a.redis,
					ExcludedPaths: []string{"/health", "/metrics"},
				}),
			}
			if a.metrics != nil {
				opts = append(opts, server.WithMetricsHandler(a.metrics.Handler()))
			}
			srv, err := server.New(a.router, a.sessions, a.index, opts...)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})
			g.Go(func() error {
				return reloadOnHangup(gctx, a, log)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// reloadOnHangup reloads the FAQ index on every SIGHUP until ctx ends. A
// failed reload keeps the previous entries.
func reloadOnHangup(ctx context.Context, a *app, log logger.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if a.source == nil {
				log.Warn("reload requested but no faq source is configured")
				continue
			}
			if err := a.index.Reload(ctx, a.source); err != nil {
				log.Error("faq reload failed", "error", err)
			}
		}
	}
}

func askCmd() *cobra.Command {
	var sessionFlag string
	var categoryFlag string

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Route one message and print the decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			req := router.Request{SessionID: sessionFlag, Message: args[0]}
			if categoryFlag != "" {
				req.Metadata = map[string]string{router.MetadataCategory: categoryFlag}
			}
			d, err := a.router.Route(cmd.Context(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}

	cmd.Flags().StringVar(&sessionFlag, "session", "", "session id to continue")
	cmd.Flags().StringVar(&categoryFlag, "category", "", "restrict FAQ matching to a category")
	return cmd
}

func faqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faq",
		Short: "Inspect and manage the FAQ",
	}
	cmd.AddCommand(faqSearchCmd())
	cmd.AddCommand(faqImportCmd())
	cmd.AddCommand(faqDeactivateCmd())
	return cmd
}

func faqSearchCmd() *cobra.Command {
	var categoryFlag string
	var limit int
	var explain bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Show how a query scores against the FAQ",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := &app{cfg: cfg, log: logger.Discard()}
			defer a.Close()
			if err := a.openFAQ(cmd.Context()); err != nil {
				return err
			}

			q := strings.Join(args, " ")
			res, err := a.index.Search(q, categoryFlag)
			if err != nil {
				return err
			}
			threshold := a.index.Threshold()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTAGE\tSCORE\tACCEPTED\tQUESTION")
			for i, m := range res.Ranked {
				if limit > 0 && i >= limit {
					break
				}
				accepted := "no"
				if m.Score >= threshold {
					accepted = "yes"
				}
				question := m.Entry.Question
				if explain {
					question = faq.Explain(q, m.Entry.Question)
				}
				fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%s\n", m.Entry.ID, m.Stage, m.Score, accepted, question)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "THRESHOLD\t-\t%.3f\t-\t-\n", threshold)
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&categoryFlag, "category", "", "restrict to a category")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum rows to show")
	cmd.Flags().BoolVar(&explain, "explain", false, "show each question as an edit of the query")
	return cmd
}

func faqImportCmd() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy a YAML FAQ file into a SQLite database",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := faq.LoadFile(from)
			if err != nil {
				return err
			}
			store, err := faq.OpenSQLite(cmd.Context(), to)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Import(cmd.Context(), entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries into %s\n", len(entries), to)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "YAML file with a top-level faqs list")
	cmd.Flags().StringVar(&to, "to", "", "SQLite database path")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func faqDeactivateCmd() *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "deactivate [id...]",
		Short: "Hide entries in a SQLite FAQ from future loads",
		Long: `Marks entries inactive without deleting them. A running server picks
	the change up on its next reload (SIGHUP).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if db == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				db = cfg.FAQ.SQLiteDSN
			}
			if db == "" {
				return fmt.Errorf("no SQLite database: pass --db or set faq.sqlite_dsn")
			}

			store, err := faq.OpenSQLite(cmd.Context(), db)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := store.Deactivate(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&db, "db", "", "SQLite database path (default faq.sqlite_dsn)")
	return cmd
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Show escalation rules in precedence order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRECEDENCE\tRULE\tREASON\tDESCRIPTION")
			for _, r := range policy.New(cfg.Escalation).Rules() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Precedence, r.Name, r.Reason, r.Description)
			}
			return w.Flush()
		},
	}
}
