package cli

import (
	"fmt"
	"log/slog"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"starstep/internal/config"
	"starstep/internal/engine"
	"starstep/internal/fsutil"
	"starstep/internal/instruct"
	"starstep/internal/storage"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, eng *engine.Engine) *cobra.Command {
	return newRootCmd(NewRoot(eng, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "starstep",
		Short: "starstep runs custom processing steps at fixed points of a stacking timeline",
		Long: `starstep reads an instruction tree, matches each instruction to the frame
groups of a session and runs the resulting operations phase by phase,
from light frame calibration to the final master files.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(root.out)

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newPlanCmd(root))
	rootCmd.AddCommand(newPhasesCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))
	return rootCmd
}

func addRequestFlags(cmd *cobra.Command, f *requestFlags) {
	cmd.Flags().StringVarP(&f.instructions, "instructions", "i", "", "instruction tree (.yaml, .yml or .hcl)")
	cmd.Flags().StringVar(&f.masters, "masters", "", "directory holding master calibration files")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output directory")
	cmd.Flags().StringVar(&f.phase, "phase", "", "schedule a single phase (name or number) instead of the timeline")
	cmd.Flags().BoolVar(&f.registration, "registration", false, "schedule the registration phases")
	cmd.Flags().BoolVar(&f.integration, "integration", false, "schedule integration and the master phase")
}

func inputArg(root *Root, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return root.cfg.Paths.DefaultInput
}

func newRunCmd(root *Root) *cobra.Command {
	var f requestFlags

	cmd := &cobra.Command{
		Use:   "run [session_directory]",
		Short: "Schedule and execute the custom steps of a session",
		Long: `Discover the frame groups of a session, schedule every phase of the
timeline and run the queued operations in order.

Examples:
  # Calibration and pre-processing steps only
  starstep run /data/astro/m42 -i steps.yaml -o /data/astro/m42-out

  # Full timeline including the master phase
  starstep run /data/astro/m42 -i steps.hcl --registration --integration

  # A single phase
  starstep run /data/astro/m42 -i steps.yaml --phase onPreProcessEnd`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(inputArg(root, args), cmd.Flags().Changed("registration"), cmd.Flags().Changed("integration"))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			root.log.Info("run command parsed",
				"input", req.InputDir,
				"instructions", req.Instructions,
				"output", req.OutputDir,
				"phase", f.phase,
			)
			rep, err := root.engine.Execute(ctx, req)
			if rep != nil {
				root.printResults(rep)
			}
			if err != nil {
				return err
			}
			if rep.Failed > 0 {
				return fmt.Errorf("%d operation(s) failed", rep.Failed)
			}
			return nil
		},
	}
	addRequestFlags(cmd, &f)
	return cmd
}

func newPlanCmd(root *Root) *cobra.Command {
	var (
		f     requestFlags
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "plan [session_directory]",
		Short: "Show the operations a run would queue without executing them",
		Long: `Show the operations and disk space a run would need.

With --watch the plan is printed again every time the instruction tree
changes on disk.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(inputArg(root, args), cmd.Flags().Changed("registration"), cmd.Flags().Changed("integration"))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			plan := func() error {
				rep, err := root.engine.Plan(ctx, req)
				if err != nil {
					return err
				}
				root.printPlan(rep)
				return nil
			}
			if err := plan(); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			path := req.Instructions
			if path == "" {
				path = root.cfg.Engine.InstructionsPath
			}
			return fsutil.WatchFile(ctx, path, 200*time.Millisecond, root.log, func() {
				fmt.Fprintln(root.out, "\n--- instructions changed ---")
				if err := plan(); err != nil {
					root.log.Warn("plan failed", "error", err)
				}
			})
		},
	}
	addRequestFlags(cmd, &f)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-plan when the instruction tree changes")
	return cmd
}

func newPhasesCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "List the timeline phases instructions can target",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			root.printPhases()
		},
	}
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run_id]",
		Short: "Show recorded runs, or the operations of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) > 0 {
				runID = args[0]
			}
			return root.printHistory(runID, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var httpAddr, grpcAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and gRPC health endpoint",
		Long: `Start an HTTP server to submit runs, browse run history and stream
operation results, plus a gRPC health endpoint.

Examples:
  starstep serve --http :8080 --grpc :9090
  starstep serve --grpc ""   # HTTP only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			root.log.Info("starting server",
				"http_addr", httpAddr,
				"grpc_addr", grpcAddr,
				"endpoints", []string{"/healthz", "/phases", "/runs", "/plan", "/stream", "/ws"},
			)
			return root.serve(ctx, httpAddr, grpcAddr, root.store, root.engine, root.log)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", root.cfg.Server.HTTPAddr, "HTTP listen address (empty disables)")
	cmd.Flags().StringVar(&grpcAddr, "grpc", root.cfg.Server.GRPCAddr, "gRPC health listen address (empty disables)")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate starstep configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := root.out
			fmt.Fprintf(out, "Config file: %s\n\n", config.Path())
			fmt.Fprintf(out, "Instructions: %s\n", root.cfg.Engine.InstructionsPath)
			fmt.Fprintf(out, "Output Directory: %s\n", root.cfg.Engine.OutputDir)
			fmt.Fprintf(out, "Registration: %t\n", root.cfg.Engine.Registration)
			fmt.Fprintf(out, "Integration: %t\n", root.cfg.Engine.Integration)
			fmt.Fprintf(out, "Timeline Blocks: %t\n", root.cfg.Engine.Timeline)
			fmt.Fprintf(out, "Default Frame Size: %d\n", root.cfg.Engine.DefaultFrameSize)
			fmt.Fprintf(out, "Default Input: %s\n", root.cfg.Paths.DefaultInput)
			fmt.Fprintf(out, "Masters Directory: %s\n", root.cfg.Paths.MastersDir)
			fmt.Fprintf(out, "Database Path: %s\n", root.cfg.Paths.DatabasePath)
			fmt.Fprintf(out, "Log Level: %s\n", root.cfg.Logging.Level)
			fmt.Fprintf(out, "Log Format: %s\n", root.cfg.Logging.Format)
			fmt.Fprintf(out, "Log Directory: %s\n", root.cfg.Logging.LogDir)
			fmt.Fprintf(out, "HTTP Address: %s\n", root.cfg.Server.HTTPAddr)
			fmt.Fprintf(out, "gRPC Address: %s\n", root.cfg.Server.GRPCAddr)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate [instructions]",
		Short: "Parse the instruction tree and report its size",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.cfg.Engine.InstructionsPath
			if len(args) > 0 {
				path = args[0]
			}
			tree, err := instruct.Load(path, root.engine.Registry())
			if err != nil {
				return fmt.Errorf("invalid instruction tree: %w", err)
			}
			root.log.Info("configuration validation", "status", "valid", "instructions", path)
			fmt.Fprintf(root.out, "Instruction tree %s is valid: %d instruction(s)\n", path, tree.Leaves())
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(root.out, "starstep v%s\n", version)
			fmt.Fprintf(root.out, "Built with Go %s\n", runtime.Version())
		},
	}
}
