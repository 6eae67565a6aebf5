// Package phase enumerates the named points of the pre-processing timeline at
// which custom steps can be attached.
package phase

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Phase identifies a custom-step entry point.
type Phase int

const (
	Unknown Phase = iota
	CalibrationStart
	CalibrationEnd
	LPSStart
	LPSEnd
	CCStart
	CCEnd
	DebayerStart
	DebayerEnd
	PreProcessEnd
	PostProcessStart
	RegistrationStart
	RegistrationEnd
	LNStart
	LNEnd
	IntegrationStart
	IntegrationEnd
	PostProcessEnd
)

var names = [...]string{
	Unknown:           "unknown",
	CalibrationStart:  "onCalibrationStart",
	CalibrationEnd:    "onCalibrationEnd",
	LPSStart:          "onLPSStart",
	LPSEnd:            "onLPSEnd",
	CCStart:           "onCCStart",
	CCEnd:             "onCCEnd",
	DebayerStart:      "onDebayerStart",
	DebayerEnd:        "onDebayerEnd",
	PreProcessEnd:     "onPreProcessEnd",
	PostProcessStart:  "onPostProcessStart",
	RegistrationStart: "onRegistrationStart",
	RegistrationEnd:   "onRegistrationEnd",
	LNStart:           "onLNStart",
	LNEnd:             "onLNEnd",
	IntegrationStart:  "onIntegrationStart",
	IntegrationEnd:    "onIntegrationEnd",
	PostProcessEnd:    "onPostProcessEnd",
}

// aliases keeps annotations written against older step names working.
var aliases = map[string]Phase{
	"onlspend": LPSEnd,
}

// All returns every valid phase in timeline order.
func All() []Phase {
	out := make([]Phase, 0, len(names)-1)
	for p := CalibrationStart; p <= PostProcessEnd; p++ {
		out = append(out, p)
	}
	return out
}

// Valid reports whether p is a known entry point.
func (p Phase) Valid() bool {
	return p >= CalibrationStart && p <= PostProcessEnd
}

func (p Phase) String() string {
	if !p.Valid() {
		return names[Unknown]
	}
	return names[p]
}

// Master reports whether the phase operates on master files by default.
func (p Phase) Master() bool {
	return p == PostProcessEnd
}

// Parse resolves a step annotation value: either a phase name (case
// insensitive) or its number. Numbers compare numerically, so "02" and
// "2.0" both resolve to phase 2; fractional values resolve to nothing.
func Parse(s string) (Phase, bool) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f != math.Trunc(f) || f < float64(CalibrationStart) || f > float64(PostProcessEnd) {
			return Unknown, false
		}
		return Phase(f), true
	}
	lower := strings.ToLower(s)
	for _, p := range All() {
		if strings.ToLower(names[p]) == lower {
			return p, true
		}
	}
	if p, ok := aliases[lower]; ok {
		return p, true
	}
	return Unknown, false
}

// MarshalJSON writes the phase name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a phase name or number.
func (p *Phase) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	v, ok := Parse(s)
	if !ok {
		return fmt.Errorf("unknown phase %s", b)
	}
	*p = v
	return nil
}
