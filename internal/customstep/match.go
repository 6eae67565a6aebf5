package customstep

import (
	"starstep/internal/attrs"
	"starstep/internal/frames"
	"starstep/internal/instruct"
	"starstep/internal/transform"
)

// Eligible reports whether custom instructions may apply to g at all:
// only light groups whose channel is not the combined RGB one.
func Eligible(g *frames.Group) bool {
	return g.ImageType == frames.ImageLight && g.Channel != frames.ChannelCombined
}

// Match returns the instructions that apply to g, in order. A non-empty
// result starts with a no-op carrying the phase label.
func Match(ins []instruct.Instruction, g *frames.Group) []instruct.Instruction {
	if !Eligible(g) {
		return nil
	}
	var out []instruct.Instruction
	for _, in := range ins {
		if applies(in.Attrs, g) {
			out = append(out, in)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return append([]instruct.Instruction{{Transform: transform.NoOp{}}}, out...)
}

// applies rejects only on an explicit value mismatch; a keyword the group
// does not declare is no constraint.
func applies(set attrs.Set, g *frames.Group) bool {
	for key, want := range set {
		if key == attrs.StepKey {
			continue
		}
		if got, ok := g.Keyword(key); ok && got != want {
			return false
		}
	}
	return true
}
