// Package engine runs the custom-step timeline over a session directory:
// discover groups, load instructions, schedule every phase, then drain the
// queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"starstep/internal/config"
	"starstep/internal/customstep"
	"starstep/internal/frames"
	"starstep/internal/instruct"
	"starstep/internal/phase"
	"starstep/internal/pipeline"
	"starstep/internal/storage"
	"starstep/internal/transform"
)

// ErrBusy is returned when a run is requested while another is executing.
var ErrBusy = errors.New("a run is already in progress")

// Request describes one run. Empty fields fall back to the configuration.
type Request struct {
	InputDir     string `json:"input"`
	MastersDir   string `json:"masters"`
	Instructions string `json:"instructions"`
	OutputDir    string `json:"output"`
	Registration *bool  `json:"registration,omitempty"`
	Integration  *bool  `json:"integration,omitempty"`
	// Phase restricts scheduling to a single phase when set.
	Phase phase.Phase `json:"phase,omitempty"`
}

// PlannedOperation is a queued operation as shown by dry runs.
type PlannedOperation struct {
	Seq           int    `json:"seq"`
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Group         string `json:"group,omitempty"`
	Frames        int    `json:"frames"`
	RequiredBytes int64  `json:"required_bytes"`
}

// Report summarizes a planned or executed run.
type Report struct {
	RunID      string                 `json:"run_id"`
	Groups     []string               `json:"groups"`
	Planned    []PlannedOperation     `json:"planned"`
	Results    []pipeline.Result      `json:"results,omitempty"`
	Estimates  customstep.Estimates   `json:"estimates"`
	Masters    customstep.MasterCache `json:"-"`
	Duration   time.Duration          `json:"duration"`
	Failed     int                    `json:"failed"`
	Dispatched int                    `json:"dispatched"`
}

// Engine owns the shared collaborators of every run.
type Engine struct {
	cfg    *config.Config
	reg    *transform.Registry
	opener transform.Opener
	log    *slog.Logger
	store  *storage.Store

	runMu sync.Mutex

	mu        sync.Mutex
	subs      map[int]chan pipeline.Result
	nextSubID int
}

// New creates an engine. store may be nil.
func New(cfg *config.Config, reg *transform.Registry, opener transform.Opener, logger *slog.Logger, store *storage.Store) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		reg:    reg,
		opener: opener,
		log:    logger,
		store:  store,
		subs:   make(map[int]chan pipeline.Result),
	}
}

// Registry exposes the transform registry the engine builds trees with.
func (e *Engine) Registry() *transform.Registry {
	return e.reg
}

func (e *Engine) resolve(req Request) Request {
	if req.InputDir == "" {
		req.InputDir = e.cfg.Paths.DefaultInput
	}
	if req.MastersDir == "" {
		req.MastersDir = e.cfg.Paths.MastersDir
	}
	if req.Instructions == "" {
		req.Instructions = e.cfg.Engine.InstructionsPath
	}
	if req.OutputDir == "" {
		req.OutputDir = e.cfg.Engine.OutputDir
	}
	if req.Registration == nil {
		v := e.cfg.Engine.Registration
		req.Registration = &v
	}
	if req.Integration == nil {
		v := e.cfg.Engine.Integration
		req.Integration = &v
	}
	return req
}

type prepared struct {
	req    Request
	groups []*frames.Group
	run    *customstep.Run
	queue  *pipeline.Queue
}

func (e *Engine) prepare(req Request, store *storage.Store) (*prepared, error) {
	req = e.resolve(req)

	root, err := instruct.Load(req.Instructions, e.reg)
	if err != nil {
		// a missing tree only skips phases
		e.log.Warn("instruction tree unavailable", "path", req.Instructions, "error", err)
		root = nil
	}

	groups, err := frames.Discover(req.InputDir, req.MastersDir)
	if err != nil {
		return nil, fmt.Errorf("discover groups: %w", err)
	}
	for _, g := range groups {
		if g.FrameSize == 0 {
			g.FrameSize = e.cfg.Engine.DefaultFrameSize
		}
	}

	run := customstep.NewRun(req.OutputDir, e.opener, e.log, store)
	queue := pipeline.New(run.ID, e.log, store)
	sched := &customstep.Scheduler{Root: root, Run: run, Queue: queue}

	if req.Phase.Valid() {
		sched.Schedule(groups, req.Phase, req.Phase.Master())
	} else {
		tl := &customstep.Timeline{
			Scheduler: sched,
			Options: customstep.TimelineOptions{
				Registration: *req.Registration,
				Integration:  *req.Integration,
				Blocks:       e.cfg.Engine.Timeline,
			},
		}
		tl.Build(groups)
	}
	return &prepared{req: req, groups: groups, run: run, queue: queue}, nil
}

func (p *prepared) report() *Report {
	rep := &Report{RunID: p.run.ID, Estimates: p.run.Estimates, Masters: p.run.Masters}
	for _, g := range p.groups {
		rep.Groups = append(rep.Groups, g.String())
	}
	for i, op := range p.queue.Operations() {
		po := PlannedOperation{Seq: i, Name: op.Name(), Kind: op.Kind()}
		if c, ok := op.(*customstep.Operation); ok {
			po.Group = c.Group.FolderName()
			po.Frames = len(c.Group.ActiveFrames())
			po.RequiredBytes = c.SpaceRequired()
		}
		rep.Planned = append(rep.Planned, po)
	}
	return rep
}

// Plan schedules a run without executing it.
func (e *Engine) Plan(ctx context.Context, req Request) (*Report, error) {
	p, err := e.prepare(req, nil)
	if err != nil {
		return nil, err
	}
	return p.report(), ctx.Err()
}

// Execute schedules and drains a run. It returns ErrBusy when another run
// holds the engine.
func (e *Engine) Execute(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	p, err := e.begin(req)
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, p, start)
}

// Submit schedules a run and drains it in the background. Errors that stop
// the run from starting, ErrBusy included, are returned before Submit does;
// the outcome of the drain reaches subscribers and the audit store.
func (e *Engine) Submit(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	p, err := e.begin(req)
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := e.finish(ctx, p, start); err != nil {
			e.log.Warn("run stopped", "run", p.run.ID, "error", err)
		}
	}()
	return p.run.ID, nil
}

// begin takes the run lock and schedules; the lock is held on success.
func (e *Engine) begin(req Request) (*prepared, error) {
	if !e.runMu.TryLock() {
		return nil, ErrBusy
	}
	p, err := e.prepare(req, e.store)
	if err != nil {
		e.runMu.Unlock()
		return nil, err
	}
	_ = e.store.RecordRunStart(storage.RunRecord{
		ID:           p.run.ID,
		Instructions: p.req.Instructions,
		InputPath:    p.req.InputDir,
		OutputPath:   p.req.OutputDir,
	})
	return p, nil
}

// finish drains a prepared run and releases the run lock.
func (e *Engine) finish(ctx context.Context, p *prepared, start time.Time) (*Report, error) {
	defer e.runMu.Unlock()

	rep := p.report()
	ch, unsub := p.queue.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range ch {
			e.broadcast(res)
		}
	}()

	results, drainErr := p.queue.Drain(ctx)
	unsub()
	<-done
	p.queue.Close()

	rep.Results = results
	rep.Duration = time.Since(start)
	for _, r := range results {
		if r.Kind != "custom" {
			continue
		}
		rep.Dispatched++
		if r.Failed() {
			rep.Failed++
		}
	}

	status := "done"
	switch {
	case drainErr != nil:
		status = "canceled"
	case rep.Failed > 0:
		status = "done_with_failures"
	}
	_ = e.store.RecordRunResult(p.run.ID, status, p.run.Estimates.Total())
	e.log.Info("run finished",
		"run", p.run.ID,
		"status", status,
		"operations", rep.Dispatched,
		"failed", rep.Failed,
		"duration", rep.Duration.String(),
	)
	return rep, drainErr
}

// Subscribe returns a channel receiving the results of every run and an
// unsubscribe function.
func (e *Engine) Subscribe() (<-chan pipeline.Result, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	ch := make(chan pipeline.Result, 16)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) broadcast(res pipeline.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- res:
		default:
			e.log.Warn("result channel full", "subscriber", id, "operation", res.OperationID)
		}
	}
}
