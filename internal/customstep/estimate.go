package customstep

import (
	"starstep/internal/frames"
	"starstep/internal/instruct"
	"starstep/internal/transform"
)

// BaseFactor is the storage multiplier of a single transform.
func BaseFactor(t transform.Transform) float64 {
	if sp, ok := t.(transform.SpaceFactorProvider); ok {
		return sp.SpaceFactor()
	}
	return 1
}

// Factors returns the accounted space factor of each instruction of a group
// chain. The first instruction carries the product of the whole chain and
// every later one is 0, since only the first materialized output is budgeted.
func Factors(chain []instruct.Instruction) []float64 {
	out := make([]float64, len(chain))
	if len(chain) == 0 {
		return out
	}
	product := 1.0
	for _, in := range chain {
		product *= BaseFactor(in.Transform)
	}
	out[0] = product
	return out
}

// RequiredSpace estimates the bytes an operation writes for g. Master
// phases process a single synthesized file.
func RequiredSpace(g *frames.Group, factor float64, master bool) int64 {
	n := len(g.ActiveFrames())
	if master {
		n = 1
	}
	return int64(float64(n) * float64(g.FrameSize) * factor)
}
