package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/reconcilekit/internal/config"
	"github.com/giantswarm/reconcilekit/internal/reconciler"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Work with operator configuration files",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file",
		Long: `Parse and validate a configuration file. Every problem found is
reported, not just the first one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConfigValidate,
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "show [file]",
		Short: "Show the effective configuration",
		Long: `Show the configuration after defaults are applied, with one row per
controller.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConfigShow,
	})

	return configCmd
}

func loadValidated(args []string) (string, config.Config, error) {
	path, err := resolveConfigPath(args)
	if err != nil {
		return "", config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return path, cfg, err
	}
	return path, cfg, config.Validate(cfg)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path, _, err := loadValidated(args)
	var collection *config.ConfigurationErrorCollection
	if errors.As(err, &collection) {
		fmt.Fprintln(cmd.ErrOrStderr(), collection.Report())
		return err
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path, cfg, err := loadValidated(args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n\n", text.FgHiBlue.Sprint("Configuration:"), path)
	renderOperator(out, cfg)
	fmt.Fprintln(out)
	renderControllers(out, cfg)
	return nil
}

func createTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderOperator(out io.Writer, cfg config.Config) {
	t := createTable(out)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("SETTING"), text.FgHiCyan.Sprint("VALUE")})
	t.AppendRows([]table.Row{
		{"logging.level", cfg.Logging.Level},
		{"operator.shutdownGracePeriod", cfg.Operator.ShutdownGracePeriod},
		{"operator.workflowConcurrency", cfg.Operator.WorkflowConcurrency},
		{"operator.syncTimeout", cfg.Operator.SyncTimeout},
		{"operator.metrics", cfg.Operator.Metrics},
	})
	t.Render()
}

func renderControllers(out io.Writer, cfg config.Config) {
	if len(cfg.Controllers) == 0 {
		fmt.Fprintln(out, text.FgYellow.Sprint("No controllers configured, every controller runs with defaults"))
		return
	}

	t := createTable(out)
	t.AppendHeader(table.Row{"CONTROLLER", "WORKERS", "GENERATION AWARE", "TIMEOUT", "MAX INTERVAL", "RETRY", "RATE LIMIT"})
	for _, cc := range cfg.Controllers {
		dc := cc.DispatcherConfig()
		t.AppendRow(table.Row{
			text.FgHiCyan.Sprint(cc.Name),
			orDefault(dc.WorkerCount, 0, "default"),
			dc.GenerationAware,
			orDefault(dc.ReconcileTimeout, 0, "default"),
			orDefault(dc.MaxReconciliationInterval, 0, "off"),
			describeRetry(dc.Retry),
			describeRateLimit(dc.RateLimit),
		})
	}
	t.Render()
}

func orDefault[T comparable](v, unset T, label string) string {
	if v == unset {
		return label
	}
	return fmt.Sprint(v)
}

func describeRetry(r reconciler.RetryConfig) string {
	if r == (reconciler.RetryConfig{}) {
		r = reconciler.DefaultRetryConfig()
	}
	attempts := strconv.Itoa(r.MaxAttempts)
	if r.MaxAttempts < 0 {
		attempts = "unlimited"
	}
	return fmt.Sprintf("%s x%s, max %s, %s attempts",
		r.InitialInterval, strconv.FormatFloat(r.Multiplier, 'f', -1, 64), r.MaxInterval.Round(time.Millisecond), attempts)
}

func describeRateLimit(rl *reconciler.RateLimit) string {
	if rl == nil {
		return "none"
	}
	return fmt.Sprintf("%d per %s", rl.Limit, rl.Period)
}
