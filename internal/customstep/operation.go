package customstep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"starstep/internal/frames"
	"starstep/internal/fsutil"
	"starstep/internal/logging"
	"starstep/internal/phase"
	"starstep/internal/pipeline"
	"starstep/internal/storage"
	"starstep/internal/transform"
)

// ErrNoMasterFiles fails a master phase operation for a group without any
// master file, cached or its own.
var ErrNoMasterFiles = errors.New("no master files found")

// Operation applies one instruction to one group.
type Operation struct {
	ID        string
	Group     *frames.Group
	Transform transform.Transform
	Phase     phase.Phase
	Seq       int
	Factor    float64
	Master    bool

	run *Run
}

// Name is the label shown in the queue. The leading no-op of a chain is
// named after the phase.
func (o *Operation) Name() string {
	if transform.IsNoOp(o.Transform) {
		return fmt.Sprintf("Custom %s step(s)", o.Phase)
	}
	return fmt.Sprintf("%s #%d: %s", o.Phase, o.Seq, o.Transform.Name())
}

func (o *Operation) Kind() string { return "custom" }

// StepCode is the status code recorded on frames this operation produced.
func (o *Operation) StepCode() int {
	return int(o.Phase)*1_000_000 + o.Seq*1_000
}

// SpaceRequired is the number of bytes accounted for this operation.
func (o *Operation) SpaceRequired() int64 {
	return RequiredSpace(o.Group, o.Factor, o.Master)
}

// OutputFolder is where processed frames are written. Master phases share
// one folder for every group.
func (o *Operation) OutputFolder() string {
	dir := filepath.Join(o.run.OutputDir, o.Phase.String())
	if o.Master {
		return dir
	}
	return filepath.Join(dir, o.Group.FolderName())
}

// Run executes the operation over the group's active frames.
func (o *Operation) Run(ctx context.Context) pipeline.Result {
	g := o.Group
	if o.Master && !o.loadMasters() {
		return pipeline.Result{
			Status:  pipeline.StatusFailed,
			Message: ErrNoMasterFiles.Error(),
			Error:   fmt.Errorf("%s: %w", g.FolderName(), ErrNoMasterFiles),
			Meta:    map[string]any{"group": g.FolderName()},
		}
	}

	active := g.ActiveFrames()
	if len(active) == 0 {
		return pipeline.Result{
			Status:  pipeline.StatusDone,
			Message: "no active frames",
			Meta:    map[string]any{"group": g.FolderName(), "processed": 0},
		}
	}

	dir, err := fsutil.EnsureDir(o.OutputFolder())
	if err != nil {
		// every frame would fail to save
		for _, it := range active {
			it.Fail()
			o.recordFrame(it, err)
		}
		return o.summary(0, len(active), dir)
	}

	succeeded, failed := 0, 0
	for _, it := range active {
		out, err := o.processFrame(ctx, it, dir)
		if err != nil {
			it.Fail()
			failed++
			o.recordFrame(it, err)
			continue
		}
		it.Succeed(o.StepCode(), out)
		succeeded++
		o.recordFrame(it, nil)
		if key, ok := g.MasterKeyForName(out); ok {
			o.run.recordMaster(g, key, out)
		}
	}
	return o.summary(succeeded, failed, dir)
}

// loadMasters replaces the group items with its master files.
func (o *Operation) loadMasters() bool {
	var items []*frames.Item
	for _, key := range frames.MasterKeys() {
		if p := o.run.MasterFile(o.Group, key); p != "" {
			items = append(items, frames.NewItem(p))
		}
	}
	o.Group.ReplaceItems(items)
	return len(items) > 0
}

func (o *Operation) processFrame(ctx context.Context, it *frames.Item, dir string) (string, error) {
	f, err := o.run.Opener.Open(it.Current)
	if err != nil {
		return "", err
	}
	defer f.Close()

	out := filepath.Join(dir, filepath.Base(it.Current))
	if out != it.Current {
		// a stale file from an earlier run must not pass for this output
		_ = os.Remove(out)
	}
	if err := o.Transform.Apply(ctx, f); err != nil {
		return "", fmt.Errorf("apply %s: %w", o.Transform.Name(), err)
	}
	if err := f.Save(out); err != nil {
		return "", err
	}
	if !fsutil.Exists(out) {
		return "", fmt.Errorf("output %s was not written", out)
	}
	return out, nil
}

func (o *Operation) recordFrame(it *frames.Item, err error) {
	logging.LogFrameResult(o.run.Log, o.Name(), it.Current, it.Output, err)
	rec := storage.FrameRecord{OperationID: o.ID, Source: it.Source, Status: it.Status.String()}
	if err == nil {
		rec.Output = it.Output
		rec.StepCode = it.StepCode
	}
	_ = o.run.Store.RecordFrameResult(rec)
}

func (o *Operation) summary(succeeded, failed int, dir string) pipeline.Result {
	return pipeline.Result{
		Status:  pipeline.StatusDone,
		Message: fmt.Sprintf("%d succeeded, %d failed", succeeded, failed),
		Meta: map[string]any{
			"group":      o.Group.FolderName(),
			"succeeded":  succeeded,
			"failed":     failed,
			"processed":  succeeded + failed,
			"output_dir": dir,
			"warnings":   failed > 0,
		},
	}
}
