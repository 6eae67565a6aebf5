package customstep

import (
	"errors"

	"starstep/internal/frames"
	"starstep/internal/instruct"
	"starstep/internal/logging"
	"starstep/internal/phase"
	"starstep/internal/pipeline"
)

// Scheduler turns the instructions tagged for a phase into queued
// operations. It never executes anything.
type Scheduler struct {
	Root  *instruct.Node
	Run   *Run
	Queue *pipeline.Queue
}

// Plan builds the operations of phase p for groups, group-major and
// instruction-minor, without queuing them.
func (s *Scheduler) Plan(groups []*frames.Group, p phase.Phase, master bool) []*Operation {
	ins, err := instruct.ExtractChecked(s.Root, p)
	if errors.Is(err, instruct.ErrNoRoot) {
		s.Run.Log.Warn("instruction tree not found, skipping phase", "phase", p.String())
		return nil
	}
	if len(ins) == 0 {
		return nil
	}

	var ops []*Operation
	for _, g := range groups {
		chain := Match(ins, g)
		factors := Factors(chain)
		for seq, in := range chain {
			ops = append(ops, &Operation{
				Group:     g,
				Transform: in.Transform,
				Phase:     p,
				Seq:       seq,
				Factor:    factors[seq],
				Master:    master,
				run:       s.Run,
			})
		}
	}
	return ops
}

// Enqueue accounts for and appends ops in order. It returns the bytes
// added to the estimate.
func (s *Scheduler) Enqueue(ops []*Operation) int64 {
	var total int64
	for _, op := range ops {
		n := op.SpaceRequired()
		s.Run.Estimates.Add(SpaceCategory, n)
		total += n
		op.ID = s.Queue.Append(op)
	}
	return total
}

// Schedule plans phase p for groups and appends the operations to the
// queue. It returns the scheduled operations.
func (s *Scheduler) Schedule(groups []*frames.Group, p phase.Phase, master bool) []*Operation {
	ops := s.Plan(groups, p, master)
	required := s.Enqueue(ops)
	logging.LogPhaseScheduled(s.Run.Log, p.String(), len(groups), len(ops), required)
	return ops
}
