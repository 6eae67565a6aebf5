// Package frames models the frame groups a pipeline run operates on.
package frames

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ImageType is the imaging role shared by all frames of a group.
type ImageType int

const (
	ImageUnknown ImageType = iota
	ImageBias
	ImageDark
	ImageFlat
	ImageLight
)

func (t ImageType) String() string {
	switch t {
	case ImageBias:
		return "bias"
	case ImageDark:
		return "dark"
	case ImageFlat:
		return "flat"
	case ImageLight:
		return "light"
	default:
		return "unknown"
	}
}

// ParseImageType maps a role name to its ImageType.
func ParseImageType(s string) ImageType {
	switch strings.ToLower(s) {
	case "bias", "offset":
		return ImageBias
	case "dark":
		return ImageDark
	case "flat":
		return ImageFlat
	case "light":
		return ImageLight
	default:
		return ImageUnknown
	}
}

// Channel is the associated color channel of a group. ChannelCombined marks
// groups synthesized to recombine separated channels.
type Channel int

const (
	ChannelNone Channel = iota
	ChannelR
	ChannelG
	ChannelB
	ChannelCombined
)

func (c Channel) String() string {
	switch c {
	case ChannelR:
		return "R"
	case ChannelG:
		return "G"
	case ChannelB:
		return "B"
	case ChannelCombined:
		return "RGB"
	default:
		return ""
	}
}

// ParseChannel maps a channel designation to its Channel.
func ParseChannel(s string) Channel {
	switch strings.ToUpper(s) {
	case "R", "RED":
		return ChannelR
	case "G", "GREEN":
		return ChannelG
	case "B", "BLUE":
		return ChannelB
	case "RGB", "COMBINED":
		return ChannelCombined
	default:
		return ChannelNone
	}
}

// MasterType identifies the kind of synthesized master file.
type MasterType string

const (
	MasterLight MasterType = "MASTER_LIGHT"
	Drizzle     MasterType = "DRIZZLE"
	Recombined  MasterType = "RECOMBINED"
)

// MasterVariant distinguishes the full and cropped renditions of a master.
type MasterVariant string

const (
	Regular MasterVariant = "REGULAR"
	Cropped MasterVariant = "CROPPED"
)

// MasterKey addresses one master file of a group.
type MasterKey struct {
	Type    MasterType
	Variant MasterVariant
}

func (k MasterKey) String() string {
	return string(k.Type) + "_" + string(k.Variant)
}

var (
	masterTypes    = []MasterType{MasterLight, Drizzle, Recombined}
	masterVariants = []MasterVariant{Regular, Cropped}
)

// MasterKeys returns every (type, variant) combination in lookup order.
func MasterKeys() []MasterKey {
	keys := make([]MasterKey, 0, len(masterTypes)*len(masterVariants))
	for _, t := range masterTypes {
		for _, v := range masterVariants {
			keys = append(keys, MasterKey{Type: t, Variant: v})
		}
	}
	return keys
}

// Status is the processing state of a frame item.
type Status int

const (
	Pending Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Item is one input file and its processing state. Current follows the
// latest successful output so later phases chain on it.
type Item struct {
	Source   string
	Current  string
	Status   Status
	StepCode int
	Output   string
}

// NewItem returns a pending item for path.
func NewItem(path string) *Item {
	return &Item{Source: path, Current: path}
}

// Succeed records a successful step producing output.
func (i *Item) Succeed(stepCode int, output string) {
	i.Status = Succeeded
	i.StepCode = stepCode
	i.Output = output
	i.Current = output
}

// Fail marks the item failed; it leaves the active set for good.
func (i *Item) Fail() {
	i.Status = Failed
}

// Active reports whether the item is still eligible for processing.
func (i *Item) Active() bool {
	return i.Status != Failed
}

// Group is a set of same-role frames processed together. Index is the
// group's identity for the whole run.
type Group struct {
	Index     int
	Name      string
	ImageType ImageType
	Channel   Channel
	Keywords  map[string]string
	CFA       bool
	// FrameSize is the expected size in bytes of one frame.
	FrameSize int64
	// Calibrated is set when calibration masters exist for the group.
	Calibrated bool
	Items      []*Item
	Masters    map[MasterKey]string
}

// FolderName is the directory name used for the group's outputs.
func (g *Group) FolderName() string {
	parts := []string{strings.ToUpper(g.ImageType.String())}
	keys := make([]string, 0, len(g.Keywords))
	for k := range g.Keywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, strings.ToUpper(k)+"-"+g.Keywords[k])
	}
	if g.Channel != ChannelNone {
		parts = append(parts, "CHANNEL-"+g.Channel.String())
	}
	return sanitize(strings.Join(parts, "_"))
}

// Keyword returns the value of the named keyword (name is case-insensitive).
func (g *Group) Keyword(name string) (string, bool) {
	if v, ok := g.Keywords[strings.ToLower(name)]; ok {
		return v, true
	}
	for k, v := range g.Keywords {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// ActiveFrames returns the items not marked failed.
func (g *Group) ActiveFrames() []*Item {
	var out []*Item
	for _, it := range g.Items {
		if it.Active() {
			out = append(out, it)
		}
	}
	return out
}

// ReplaceItems swaps the whole item collection.
func (g *Group) ReplaceItems(items []*Item) {
	g.Items = items
}

// MasterFile returns the group's own master path for key, or "".
func (g *Group) MasterFile(key MasterKey) string {
	if g.Masters == nil {
		return ""
	}
	return g.Masters[key]
}

// MasterKeyForName returns the key of the group master whose file name
// (without extension) equals the one of path.
func (g *Group) MasterKeyForName(path string) (MasterKey, bool) {
	name := baseName(path)
	for _, key := range MasterKeys() {
		existing := g.MasterFile(key)
		if existing != "" && baseName(existing) == name {
			return key, true
		}
	}
	return MasterKey{}, false
}

func (g *Group) String() string {
	return fmt.Sprintf("group #%d %s (%d frames)", g.Index, g.FolderName(), len(g.Items))
}

func baseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '-'
		}
		return r
	}, s)
}
