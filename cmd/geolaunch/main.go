package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mpataki/geolaunch/internal/config"
	"github.com/mpataki/geolaunch/internal/dispatch"
	"github.com/mpataki/geolaunch/internal/execlog"
	"github.com/mpataki/geolaunch/internal/invoker"
	"github.com/mpataki/geolaunch/internal/models"
	"github.com/mpataki/geolaunch/internal/registry"
	"github.com/mpataki/geolaunch/internal/spec"
	"github.com/mpataki/geolaunch/internal/storage"
	"github.com/mpataki/geolaunch/internal/tui"
	"github.com/mpataki/geolaunch/internal/workspace"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(dispatch.ExitFailure)
	}

	// Catalogs load before the TUI takes the terminal, so stderr is safe here.
	bootLog := log.NewWithOptions(os.Stderr, log.Options{Level: cfg.Level(), Prefix: "geolaunch"})
	ops, err := loadOperations(cfg, bootLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load operations: %v\n", err)
		os.Exit(dispatch.ExitFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = newRootCommand(cfg, ops).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(dispatch.ExitCode(err))
	}
}

// loadOperations merges the built-in catalog with the project and user
// catalog directories.
func loadOperations(cfg *config.Config, logger *log.Logger) ([]models.OperationDescriptor, error) {
	base, err := spec.Default(cfg.Interpreter)
	if err != nil {
		return nil, err
	}
	more, err := spec.LoadAll(cfg.CatalogDirs(), logger)
	if err != nil {
		return nil, err
	}
	return spec.Merge(base, more), nil
}

func newRootCommand(cfg *config.Config, ops []models.OperationDescriptor) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "geolaunch",
		Short:        "Geospatial script launcher",
		Long:         "Geolaunch collects inputs for registered geospatial operations, validates them, and runs the backing scripts.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, cfg, ops)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.Duration("timeout", cfg.Timeout, "Kill an invocation after this long (0 waits forever)")
	flags.Bool("fail-on-exit", cfg.ExitPolicy == invoker.ExitFail, "Treat a non-zero script exit as a failure")
	flags.String("scripts-dir", cfg.ScriptsDir, "Directory scripts are resolved against")
	flags.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newListCommand(ops))
	rootCmd.AddCommand(newDescribeCommand(ops))
	rootCmd.AddCommand(newOpCommand(cfg, ops))

	return rootCmd
}

type app struct {
	cfg        *config.Config
	logger     *log.Logger
	store      *storage.Storage
	dispatcher *dispatch.Dispatcher
}

func (a *app) Close() error {
	return a.store.Close()
}

// buildApp wires the dispatcher from cfg after applying command-line flags.
func buildApp(cmd *cobra.Command, cfg *config.Config, ops []models.OperationDescriptor, logOut io.Writer) (*app, error) {
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(logOut, log.Options{
		Level:           cfg.Level(),
		Prefix:          "geolaunch",
		ReportTimestamp: true,
	})

	reg, err := registry.New(ops)
	if err != nil {
		return nil, fmt.Errorf("invalid operation catalog: %w", err)
	}

	ws, err := workspace.Open(cfg.ScriptsDir)
	if err != nil {
		return nil, err
	}

	store, err := storage.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	iv := invoker.New(ws, invoker.Options{Timeout: cfg.Timeout, ExitPolicy: cfg.ExitPolicy})
	d := dispatch.New(reg, iv, execlog.New(store, logger), logger)

	logger.Debug("ready", "operations", reg.Len(), "scripts", ws.ScriptsDir, "timeout", cfg.Timeout, "exit_policy", cfg.ExitPolicy)
	return &app{cfg: cfg, logger: logger, store: store, dispatcher: d}, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		d, err := flags.GetDuration("timeout")
		if err != nil {
			return err
		}
		if d < 0 {
			return fmt.Errorf("--timeout must not be negative")
		}
		cfg.Timeout = d
	}
	if flags.Changed("fail-on-exit") {
		fail, _ := flags.GetBool("fail-on-exit")
		if fail {
			cfg.ExitPolicy = invoker.ExitFail
		} else {
			cfg.ExitPolicy = invoker.ExitInformational
		}
	}
	if flags.Changed("scripts-dir") {
		cfg.ScriptsDir, _ = flags.GetString("scripts-dir")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	return nil
}

func runTUI(cmd *cobra.Command, cfg *config.Config, ops []models.OperationDescriptor) error {
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// The terminal belongs to the TUI, so diagnostics go to a file.
	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	a, err := buildApp(cmd, cfg, ops, logFile)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(tui.NewApp(ctx, a.dispatcher, a.store), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}

func newListCommand(ops []models.OperationDescriptor) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(ops) == 0 {
				fmt.Fprintln(out, "No operations registered")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tCOMMAND\tDESCRIPTION")
			for _, op := range ops {
				fmt.Fprintf(w, "%s\top %s\t%s\n", op.Name, slugify(op.Name), op.Description)
			}
			return w.Flush()
		},
	}
}

func newDescribeCommand(ops []models.OperationDescriptor) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <operation>",
		Short: "Show an operation's parameters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := findOperation(ops, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", op.Name)
			if op.Description != "" {
				fmt.Fprintf(out, "  %s\n", op.Description)
			}
			runner := op.Executable
			if op.Interpreter != "" {
				runner = op.Interpreter + " " + op.Executable
			}
			if op.Category != "" {
				fmt.Fprintf(out, "  Category: %s\n", op.Category)
			}
			fmt.Fprintf(out, "  Runs: %s\n\n", runner)

			if len(op.Parameters) == 0 {
				fmt.Fprintln(out, "  No parameters")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  #\tLABEL\tFLAG\tKIND\tHINT\tHELP")
			for i, p := range op.Parameters {
				kind := string(p.Kind)
				if p.Numeric != "" {
					kind += " (" + string(p.Numeric) + ")"
				}
				fmt.Fprintf(w, "  %d\t%s\t--%s\t%s\t%s\t%s\n", i+1, p.Label, slugify(p.Label), kind, p.Placeholder, p.Help)
			}
			return w.Flush()
		},
	}
}

// findOperation matches by name, then by command slug.
func findOperation(ops []models.OperationDescriptor, name string) (models.OperationDescriptor, error) {
	for _, op := range ops {
		if op.Name == name {
			return op, nil
		}
	}
	for _, op := range ops {
		if slugify(op.Name) == name {
			return op, nil
		}
	}
	return models.OperationDescriptor{}, fmt.Errorf("%w: %q", registry.ErrOperationNotFound, name)
}
