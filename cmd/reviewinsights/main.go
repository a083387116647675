package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ReviewInsights/internal/app"
	"ReviewInsights/internal/config"
	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/logging"
	"ReviewInsights/internal/usecase"
)

var (
	configPath  string
	rows        int
	maxProducts int
	txMode      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reviewinsights",
	Short: "Enrich product reviews with sentiment insights",
	Long: `reviewinsights loads raw product reviews into a relational store, asks a
text-analysis model for a sentiment breakdown per product and stores the
results as review insights.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reload reviews and analyze every product",
	RunE:  runPipeline,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue an interrupted per-product run",
	Args:  cobra.ExactArgs(1),
	RunE:  resumePipeline,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  migrateSchema,
}

var showCmd = &cobra.Command{
	Use:   "show <product_id>",
	Short: "Print the dashboard view of a product as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  showProduct,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (or set REVIEW_INSIGHTS_CONFIG env)")

	runCmd.Flags().IntVar(&rows, "rows", 0, "Maximum raw rows to load (default from config)")
	runCmd.Flags().IntVar(&maxProducts, "max-products", 0, "Maximum products to analyze, negative for all (default from config)")
	runCmd.Flags().StringVar(&txMode, "tx-mode", "", "Transaction mode: run or product (default from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) config.Config {
	if configPath != "" {
		_ = os.Setenv("REVIEW_INSIGHTS_CONFIG", configPath)
	}
	cfg := config.Load()

	flags := cmd.Flags()
	if flags.Changed("rows") {
		cfg.Pipeline.Rows = rows
	}
	if flags.Changed("max-products") {
		cfg.Pipeline.MaxProducts = maxProducts
	}
	if flags.Changed("tx-mode") {
		cfg.Pipeline.TransactionMode = domain.TxMode(txMode)
	}
	return cfg
}

func open(cmd *cobra.Command, validate bool) (*app.Application, func(), error) {
	cfg := loadConfig(cmd)
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger := logging.New(cfg.Logging.Level)
	application, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return application, func() {
		if err := application.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}, nil
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	application, closeFn, err := open(cmd, true)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := application.Run(cmd.Context())
	printReport(cmd, report)
	return err
}

func resumePipeline(cmd *cobra.Command, args []string) error {
	application, closeFn, err := open(cmd, true)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := application.Resume(cmd.Context(), args[0])
	printReport(cmd, report)
	return err
}

func migrateSchema(cmd *cobra.Command, _ []string) error {
	application, closeFn, err := open(cmd, false)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := application.Migrate(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
	return nil
}

func showProduct(cmd *cobra.Command, args []string) error {
	application, closeFn, err := open(cmd, false)
	if err != nil {
		return err
	}
	defer closeFn()

	view, err := app.BuildProductView(cmd.Context(), application.Insights(), args[0], time.Now())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func printReport(cmd *cobra.Command, report usecase.RunReport) {
	if report.RunID == "" {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s (mode %s)\n", report.RunID, report.State, report.Mode)
	fmt.Fprintf(out, "  rows loaded: %d\n", report.RowsLoaded)
	fmt.Fprintf(out, "  products:    %d (%d already done)\n", report.Products, report.Resumed)
	fmt.Fprintf(out, "  insights:    %d\n", len(report.Insights))
	for _, s := range report.Skipped {
		fmt.Fprintf(out, "  skipped %s: %v\n", s.ProductID, s.Reason)
	}
}

