package customstep

import (
	"starstep/internal/frames"
	"starstep/internal/logging"
	"starstep/internal/phase"
	"starstep/internal/pipeline"
)

// TimelineOptions mirror the host pipeline's stage toggles.
type TimelineOptions struct {
	Registration bool
	Integration  bool
	// Blocks queues log banners around stages that received operations.
	Blocks bool
}

// Timeline schedules custom steps at the phase boundaries of a full
// processing run, in the order the host reaches them.
type Timeline struct {
	Scheduler *Scheduler
	Options   TimelineOptions
}

type stage struct {
	title  string
	phase  phase.Phase
	master bool
	groups func([]*frames.Group) []*frames.Group
}

func (t *Timeline) stages() []stage {
	all := func(gs []*frames.Group) []*frames.Group { return gs }
	stages := []stage{
		{title: "LIGHT FRAMES CALIBRATION", phase: phase.CalibrationEnd, groups: calibratedLights},
		{title: "PRE-PROCESSING", phase: phase.PreProcessEnd, groups: all},
	}
	if !t.Options.Registration && !t.Options.Integration {
		return stages
	}
	stages = append(stages, stage{title: "POST-PROCESSING", phase: phase.PostProcessStart, groups: all})
	if t.Options.Registration {
		stages = append(stages,
			stage{title: "IMAGE REGISTRATION", phase: phase.RegistrationStart, groups: all},
			stage{title: "IMAGE REGISTRATION", phase: phase.RegistrationEnd, groups: all},
		)
	}
	if t.Options.Integration {
		stages = append(stages,
			stage{title: "IMAGE INTEGRATION", phase: phase.IntegrationStart, groups: all},
			stage{title: "FINAL OUTPUT", phase: phase.PostProcessEnd, master: true, groups: all},
		)
	}
	return stages
}

// Phases lists the phases Build schedules, in order.
func (t *Timeline) Phases() []phase.Phase {
	var out []phase.Phase
	for _, st := range t.stages() {
		out = append(out, st.phase)
	}
	return out
}

// Build schedules every stage for groups and returns the number of custom
// operations queued.
func (t *Timeline) Build(groups []*frames.Group) int {
	s := t.Scheduler
	total := 0
	for _, st := range t.stages() {
		gs := st.groups(groups)
		if len(gs) == 0 {
			continue
		}
		ops := s.Plan(gs, st.phase, st.master)
		if len(ops) == 0 {
			continue
		}
		title := st.title + ": " + st.phase.String()
		if t.Options.Blocks {
			s.Queue.Append(pipeline.NewHeader(title, s.Run.Log))
		}
		required := s.Enqueue(ops)
		logging.LogPhaseScheduled(s.Run.Log, st.phase.String(), len(gs), len(ops), required)
		if t.Options.Blocks {
			s.Queue.Append(pipeline.NewFooter(title, s.Run.Log))
		}
		total += len(ops)
	}
	return total
}

// calibratedLights keeps the light groups that have calibration masters.
func calibratedLights(gs []*frames.Group) []*frames.Group {
	var out []*frames.Group
	for _, g := range gs {
		if g.ImageType == frames.ImageLight && g.Calibrated {
			out = append(out, g)
		}
	}
	return out
}
