package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"starstep/internal/config"
	"starstep/internal/engine"
	"starstep/internal/phase"
	"starstep/internal/server"
	"starstep/internal/storage"

	"github.com/dustin/go-humanize"
)

type serverFunc func(ctx context.Context, httpAddr, grpcAddr string, store *storage.Store, eng *engine.Engine, log *slog.Logger) error

// Root carries the collaborators shared by every command.
type Root struct {
	engine *engine.Engine
	cfg    *config.Config
	log    *slog.Logger
	store  *storage.Store
	out    io.Writer
	serve  serverFunc
}

func NewRoot(eng *engine.Engine, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		engine: eng,
		cfg:    cfg,
		log:    logger,
		store:  store,
		out:    os.Stdout,
		serve:  server.Serve,
	}
}

// requestFlags are shared by run and plan.
type requestFlags struct {
	instructions string
	masters      string
	output       string
	phase        string
	registration bool
	integration  bool
}

func (f *requestFlags) request(input string, registrationSet, integrationSet bool) (engine.Request, error) {
	req := engine.Request{
		InputDir:     input,
		MastersDir:   f.masters,
		Instructions: f.instructions,
		OutputDir:    f.output,
	}
	if registrationSet {
		v := f.registration
		req.Registration = &v
	}
	if integrationSet {
		v := f.integration
		req.Integration = &v
	}
	if f.phase != "" {
		p, ok := phase.Parse(f.phase)
		if !ok {
			return req, fmt.Errorf("unknown phase %q", f.phase)
		}
		req.Phase = p
	}
	return req, nil
}

func (r *Root) printPlan(rep *engine.Report) {
	fmt.Fprintf(r.out, "Run %s: %d group(s)\n", rep.RunID, len(rep.Groups))
	for _, g := range rep.Groups {
		fmt.Fprintf(r.out, "  %s\n", g)
	}
	if len(rep.Planned) == 0 {
		fmt.Fprintln(r.out, "No custom operations scheduled")
		return
	}
	fmt.Fprintln(r.out, "\nOperations:")
	for _, op := range rep.Planned {
		if op.Kind != "custom" {
			continue
		}
		line := fmt.Sprintf("  %3d  %s", op.Seq, op.Name)
		if op.Group != "" {
			line += fmt.Sprintf(" [%s, %d frame(s)]", op.Group, op.Frames)
		}
		if op.RequiredBytes > 0 {
			line += " " + humanize.Bytes(uint64(op.RequiredBytes))
		}
		fmt.Fprintln(r.out, line)
	}
	fmt.Fprintln(r.out, "\nDisk space:")
	for _, label := range rep.Estimates.Labels() {
		fmt.Fprintf(r.out, "  %s: %s\n", label, humanize.Bytes(uint64(rep.Estimates[label])))
	}
}

func (r *Root) printResults(rep *engine.Report) {
	for _, res := range rep.Results {
		if res.Kind != "custom" {
			continue
		}
		mark := "ok"
		if res.Failed() {
			mark = "FAILED"
		}
		msg := res.Message
		if res.Error != nil {
			msg = res.Error.Error()
		}
		fmt.Fprintf(r.out, "  %-6s %s: %s\n", mark, res.Name, msg)
	}
	fmt.Fprintf(r.out, "%d operation(s), %d failed, %s\n", rep.Dispatched, rep.Failed, rep.Duration.Round(time.Millisecond))
}

func (r *Root) printPhases() {
	for _, p := range phase.All() {
		suffix := ""
		if p.Master() {
			suffix = " (master files)"
		}
		fmt.Fprintf(r.out, "%2d  %s%s\n", int(p), p, suffix)
	}
}

func (r *Root) printHistory(runID string, limit int) error {
	if runID == "" {
		runs, err := r.store.RecentRuns(limit)
		if err != nil {
			return err
		}
		for _, run := range runs {
			fmt.Fprintf(r.out, "%s  %-18s %s  %s -> %s  %s\n",
				run.ID, run.Status, humanize.Time(run.CreatedAt),
				run.InputPath, run.OutputPath, humanize.Bytes(uint64(run.RequiredBytes)))
		}
		return nil
	}
	ops, err := r.store.RunOperations(runID)
	if err != nil {
		return err
	}
	for _, op := range ops {
		line := fmt.Sprintf("%3d  %-8s %s", op.Seq, op.Status, op.Name)
		if op.Message != "" {
			line += ": " + op.Message
		}
		if op.Error != "" {
			line += " (" + strings.TrimSpace(op.Error) + ")"
		}
		fmt.Fprintln(r.out, line)
	}
	return nil
}
