// indexsignal prints actionable option signals for NSE indices.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/seenimoa/indexsignal/api"
	"github.com/seenimoa/indexsignal/internal/analysis/mtf"
	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/datasource"
	"github.com/seenimoa/indexsignal/internal/engine"
	"github.com/seenimoa/indexsignal/internal/infra"
	"github.com/seenimoa/indexsignal/internal/logger"
	"github.com/seenimoa/indexsignal/internal/metrics"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexsignal",
	Short: "Actionable option signals for NIFTY, BANKNIFTY, FINNIFTY and MIDCPNIFTY",
	Long: `indexsignal scans an NSE index across a timeframe ladder, weighs its
constituents, looks for liquidity traps around higher-timeframe zones and
grades the best option contract, producing one BUY_CALL, BUY_PUT, WAIT or
AVOID recommendation with the reasoning behind it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(ladderCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("indexsignal %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Scan Command ---

var scanCmd = &cobra.Command{
	Use:   "scan [index]",
	Short: "Scan an index and print an actionable signal",
	Long: `Scan an index and print an actionable signal.

Examples:
  indexsignal scan NIFTY
  indexsignal scan banknifty --expiry monthly
  indexsignal scan NIFTY --expiry 2026-10-27 --min-volume 2000 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.New(cfg.Logging, os.Stderr)
		if err != nil {
			return err
		}

		store, err := infra.NewStore(cfg.Cache)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		if c, ok := store.(io.Closer); ok {
			defer c.Close()
		}

		reg := prometheus.NewRegistry()
		var m *metrics.Metrics
		if cfg.Metrics.Enabled {
			m = metrics.New(reg, cfg.Metrics.Namespace)
		}

		live := datasource.NewProvider(cfg, store, logger.Component(log, "datasource"))
		provider := datasource.NewResilient(live, cfg.Provider, m, logger.Component(log, "provider"))
		eng := engine.New(cfg, provider, log, m, nil)

		req := engine.ScanRequest{Index: args[0]}
		req.Expiry, _ = cmd.Flags().GetString("expiry")
		if cmd.Flags().Changed("min-volume") {
			v, _ := cmd.Flags().GetInt64("min-volume")
			req.Filters.MinVolume = &v
		}
		if cmd.Flags().Changed("min-oi") {
			v, _ := cmd.Flags().GetInt64("min-oi")
			req.Filters.MinOI = &v
		}
		if cmd.Flags().Changed("max-strike-dist") {
			v, _ := cmd.Flags().GetFloat64("max-strike-dist")
			req.Filters.MaxStrikeDistPct = &v
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sig, err := eng.Scan(ctx, req)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sig)
		}
		renderSignal(os.Stdout, sig)
		if showMetrics, _ := cmd.Flags().GetBool("metrics"); showMetrics && m != nil {
			return renderMetrics(os.Stdout, reg)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().String("expiry", "", "expiry: weekly, next_weekly, monthly, YYYY-MM-DD or DD-Mon-YYYY (default from config)")
	scanCmd.Flags().Int64("min-volume", 0, "minimum option volume (overrides config)")
	scanCmd.Flags().Int64("min-oi", 0, "minimum open interest (overrides config)")
	scanCmd.Flags().Float64("max-strike-dist", 0, "maximum strike distance from spot in percent (overrides config)")
	scanCmd.Flags().Bool("json", false, "print the signal as JSON")
	scanCmd.Flags().Bool("metrics", false, "print provider and scan metrics after the signal")
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and stream watcher signals",
	Long: `Serve the HTTP API: on-demand scans, the timeframe ladder, status,
Prometheus metrics and a WebSocket stream of signals for the watched
indices, rescanned every watch interval while the market is open.

Examples:
  indexsignal serve
  indexsignal serve --port 9000 --watch NIFTY,FINNIFTY --interval 5m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("watch") {
			names, _ := cmd.Flags().GetStringSlice("watch")
			cfg.Server.WatchIndices = nil
			for _, n := range names {
				info, ok := utils.NormalizeIndex(n)
				if !ok {
					return fmt.Errorf("unsupported index %q in --watch", n)
				}
				cfg.Server.WatchIndices = append(cfg.Server.WatchIndices, info.Symbol)
			}
		}
		if cmd.Flags().Changed("interval") {
			cfg.Server.WatchInterval, _ = cmd.Flags().GetDuration("interval")
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}

		log, err := logger.New(cfg.Logging, os.Stderr)
		if err != nil {
			return err
		}
		store, err := infra.NewStore(cfg.Cache)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		if c, ok := store.(io.Closer); ok {
			defer c.Close()
		}

		reg := prometheus.NewRegistry()
		var m *metrics.Metrics
		opts := api.Options{}
		if cfg.Metrics.Enabled {
			m = metrics.New(reg, cfg.Metrics.Namespace)
			opts.Gatherer, opts.Metrics = reg, m
		}

		live := datasource.NewProvider(cfg, store, logger.Component(log, "datasource"))
		provider := datasource.NewResilient(live, cfg.Provider, m, logger.Component(log, "provider"))
		eng := engine.New(cfg, provider, log, m, nil)
		srv := api.NewServer(cfg, eng, logger.Component(log, "api"), opts)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().String("host", "", "listen host (overrides config)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	serveCmd.Flags().StringSlice("watch", nil, "indices to rescan in the background (overrides config)")
	serveCmd.Flags().Duration("interval", 0, "watch interval, 0 disables the watcher (overrides config)")
}

// --- Ladder Command ---

var ladderCmd = &cobra.Command{
	Use:   "ladder",
	Short: "Show the timeframe ladder in force",
	RunE: func(cmd *cobra.Command, args []string) error {
		at := utils.NowIST()
		if s, _ := cmd.Flags().GetString("at"); s != "" {
			t, err := time.ParseInLocation("2006-01-02T15:04", s, utils.IST)
			if err != nil {
				return fmt.Errorf("invalid --at %q (want YYYY-MM-DDTHH:MM IST): %w", s, err)
			}
			at = t
		}
		renderLadder(os.Stdout, at, mtf.LaddersFrom(cfg.MTF).Select(at))
		return nil
	},
}

func init() {
	ladderCmd.Flags().String("at", "", "evaluate at YYYY-MM-DDTHH:MM IST instead of now")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show market status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := utils.NowIST()
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  indexsignal Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Market Status: %s\n", utils.MarketStatusAt(now))
		fmt.Printf("  Time (IST):    %s\n", now.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Indices:       %s\n", strings.Join(utils.SupportedIndices(), ", "))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Cache:         %s\n", cfg.Cache.Backend)
		fmt.Printf("    NSE:           %s\n", cfg.Provider.NSEBaseURL)
		fmt.Printf("    Yahoo:         %s\n", cfg.Provider.YahooBaseURL)
		fmt.Printf("    News:          %t\n", cfg.Provider.NewsEnabled)
		fmt.Printf("    Override at:   %.0f\n", cfg.AMD.OverrideThreshold)
		fmt.Println()

		fmt.Println("  Secrets:")
		for _, k := range config.CheckSecrets(cfg) {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
