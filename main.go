// Package main provides the kbfuse binary: run fusion plans from the
// command line, serve them over REST or expose them over MCP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/duynguyendang/kbfuse/internal/manager"
	"github.com/duynguyendang/kbfuse/pkg/config"
	"github.com/duynguyendang/kbfuse/pkg/export"
	"github.com/duynguyendang/kbfuse/pkg/mcp"
	"github.com/duynguyendang/kbfuse/pkg/pipeline"
	"github.com/duynguyendang/kbfuse/pkg/processor"
	"github.com/duynguyendang/kbfuse/pkg/processors"
	"github.com/duynguyendang/kbfuse/pkg/report"
	"github.com/duynguyendang/kbfuse/pkg/server"
	"github.com/duynguyendang/kbfuse/pkg/service"
	"github.com/duynguyendang/kbfuse/pkg/store"
)

const (
	Version = "0.1.0"
	appName = "kbfuse"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flags are the options shared by every command.
type flags struct {
	configPath string
	logLevel   string
	dataDir    string
	lowMem     bool
	persist    bool
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Knowledge base fusion engine",
		Long: `kbfuse runs processor pipelines over RDF knowledge bases: it loads
data graphs, defines entity categories by pattern, asserts mappings between
entities of different knowledge bases and reports on their coverage.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&f.dataDir, "data-dir", "", "Result store directory")
	pf.BoolVar(&f.lowMem, "low-mem", false, "optimize for low-memory environments")
	pf.BoolVar(&f.persist, "persist", false, "store finished runs in the data directory")

	cmd.AddCommand(validateCmd(&f), runCmd(&f), serveCmd(&f), mcpCmd(&f), configCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})
	return cmd
}

// app is the wired application.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    *store.ResultStore
	svc      *service.PipelineService
}

func setup(f *flags) (*app, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	cfg.LowMemory = cfg.LowMemory || f.lowMem
	cfg.Persist = cfg.Persist || f.persist
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.Persist {
		a.store, err = store.Open(cfg.StoreConfig(), logger)
		if err != nil {
			return nil, err
		}
		logger.Info("result store opened", "dir", cfg.DataDir, "low_memory", cfg.LowMemory)
	}

	a.svc = service.NewPipelineService(service.Options{
		Registry:    processors.NewRegistry(),
		Opener:      processors.FileOpener{Root: cfg.SourceRoot},
		Metrics:     pipeline.NewMetrics(a.registry),
		MaxParallel: cfg.MaxParallel,
		Logger:      logger,
		Runs:        manager.NewRunManager(cfg.MaxRuns, a.store, logger),
	})
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.svc.Close(ctx); err != nil {
		a.logger.Warn("runs did not stop in time", "error", err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close result store", "error", err)
		}
	}
}

func validateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Check a plan without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(f)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := config.LoadPlan(args[0])
			if err != nil {
				return err
			}
			plan, err := a.svc.ValidatePlan(p)
			if err != nil {
				return err
			}
			fmt.Printf("Plan is valid. %d processors:\n", len(plan.Order()))
			for _, id := range plan.Order() {
				n, _ := plan.Node(id)
				fmt.Printf("  %-20s %-12s %s\n", id, n.Type().Name, n.Kind())
			}
			return nil
		},
	}
}

func runCmd(f *flags) *cobra.Command {
	var (
		reportKind string
		reportProc string
		category   string
		exportPath string
	)

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a plan and print its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(f)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := config.LoadPlan(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rec, err := a.svc.RunPlan(ctx, p)
			if err != nil {
				return err
			}
			printRun(rec)

			if reportKind != "" || exportPath != "" {
				if reportProc == "" {
					return fmt.Errorf("--processor is required with --report or --export")
				}
				if err := emitReports(ctx, a.svc, rec.ID, processor.ID(reportProc), reportKind, category, exportPath); err != nil {
					return err
				}
			}
			if rec.Status != store.RunSucceeded {
				return fmt.Errorf("run %s %s", rec.ID, rec.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reportKind, "report", "", "Report to print after the run (e.g. mapping-coverage)")
	cmd.Flags().StringVar(&reportProc, "processor", "", "Processor the report is computed for")
	cmd.Flags().StringVar(&category, "category", "", "Limit the report to one category")
	cmd.Flags().StringVar(&exportPath, "export", "", "Write the D3 graph of the processor to this file")
	return cmd
}

func printRun(rec *store.RunRecord) {
	fmt.Printf("Run %s: %s\n", rec.ID, rec.Status)
	for _, p := range rec.Processors {
		line := fmt.Sprintf("  %-20s %-13s", p.ID, p.State)
		if !p.Progress.Indeterminate() {
			line += fmt.Sprintf(" %d/%d", p.Progress.Current, p.Progress.Total)
		}
		if p.Error != "" {
			line += "  " + p.Error
		}
		fmt.Println(line)
	}
}

func emitReports(ctx context.Context, svc *service.PipelineService, runID string, id processor.ID, kindName, category, exportPath string) error {
	if kindName != "" {
		kind, err := report.ParseKind(kindName)
		if err != nil {
			return err
		}
		res, err := svc.Report(ctx, runID, id, kind, category)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	if exportPath != "" {
		res, err := svc.Report(ctx, runID, id, report.KindGraph, category)
		if err != nil {
			return err
		}
		if err := export.SaveD3Graph(res.(*report.Graph).D3Graph, exportPath); err != nil {
			return err
		}
		fmt.Printf("D3 graph written to %s\n", exportPath)
	}
	return nil
}

func serveCmd(f *flags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(f)
			if err != nil {
				return err
			}
			defer a.close()

			addr := a.cfg.Listen
			if listen != "" {
				addr = listen
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.NewServer(a.svc, a.registry).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting REST API server", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := appName + ".yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.DefaultConfig().SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func mcpCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve runs and reports as MCP tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(f)
			if err != nil {
				return err
			}
			defer a.close()
			return mcp.Run(cmd.Context(), a.svc, Version)
		},
	}
}
