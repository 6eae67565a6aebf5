package frames

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"starstep/internal/fsutil"
)

var roleWords = []string{"light", "dark", "flat", "bias", "offset"}

// Discover groups the frames found under root. Directory names of the form
// KEY_value become group keywords (keys lower-cased); the imaging role is taken
// from the first path element naming one. Masters found in mastersDir are
// attached to the group whose folder name they carry.
func Discover(root, mastersDir string) ([]*Group, error) {
	files, err := fsutil.ListFrames(root)
	if err != nil {
		return nil, fmt.Errorf("list frames in %s: %w", root, err)
	}

	byKey := make(map[string]*Group)
	var absMasters string
	if mastersDir != "" {
		absMasters, _ = filepath.Abs(mastersDir)
	}
	for _, file := range files {
		if absMasters != "" {
			if abs, err := filepath.Abs(file); err == nil && strings.HasPrefix(abs, absMasters+string(filepath.Separator)) {
				continue
			}
		}
		rel, err := filepath.Rel(root, file)
		if err != nil {
			rel = file
		}
		g := groupFromPath(rel)
		key := g.FolderName()
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = g
			existing = g
		}
		existing.Items = append(existing.Items, NewItem(file))
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]*Group, 0, len(keys))
	for i, k := range keys {
		g := byKey[k]
		g.Index = i
		paths := make([]string, len(g.Items))
		for j, it := range g.Items {
			paths[j] = it.Source
		}
		if size, err := fsutil.EstimateFrameSize(paths); err == nil {
			g.FrameSize = size
		}
		groups = append(groups, g)
	}

	if mastersDir != "" {
		if err := attachMasters(groups, mastersDir); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func groupFromPath(rel string) *Group {
	g := &Group{Keywords: map[string]string{}, ImageType: ImageUnknown}
	elems := strings.Split(filepath.ToSlash(rel), "/")
	for i, elem := range elems {
		isFile := i == len(elems)-1
		if isFile {
			elem = strings.TrimSuffix(elem, filepath.Ext(elem))
		}
		if g.ImageType == ImageUnknown {
			g.ImageType = roleOf(elem)
		}
		if isFile {
			continue
		}
		parts := strings.Split(elem, "_")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		key := strings.ToLower(parts[0])
		if roleOf(key) != ImageUnknown {
			continue
		}
		switch key {
		case "channel":
			g.Channel = ParseChannel(parts[1])
		case "cfa":
			v := strings.ToLower(parts[1])
			g.CFA = v == "true" || v == "yes" || v == "1"
		default:
			g.Keywords[key] = parts[1]
		}
	}
	if g.ImageType == ImageUnknown {
		g.ImageType = ImageLight
	}
	g.Name = g.FolderName()
	return g
}

func roleOf(elem string) ImageType {
	tokens := strings.FieldsFunc(strings.ToLower(elem), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	for _, tok := range tokens {
		for _, w := range roleWords {
			if tok == w || tok == w+"s" {
				return ParseImageType(w)
			}
		}
	}
	return ImageUnknown
}

func attachMasters(groups []*Group, mastersDir string) error {
	files, err := fsutil.ListFrames(mastersDir)
	if err != nil {
		return fmt.Errorf("list masters in %s: %w", mastersDir, err)
	}
	calibrated := false
	for _, file := range files {
		name := strings.ToLower(baseName(file))
		switch {
		case strings.HasPrefix(name, "masterdark"), strings.HasPrefix(name, "masterflat"), strings.HasPrefix(name, "masterbias"):
			calibrated = true
			continue
		}
		key, ok := masterKeyOf(name)
		if !ok {
			continue
		}
		if g := ownerOf(groups, name); g != nil {
			if g.Masters == nil {
				g.Masters = make(map[MasterKey]string)
			}
			g.Masters[key] = file
		}
	}
	if calibrated {
		for _, g := range groups {
			if g.ImageType == ImageLight {
				g.Calibrated = true
			}
		}
	}
	return nil
}

func masterKeyOf(name string) (MasterKey, bool) {
	var key MasterKey
	switch {
	case strings.HasPrefix(name, "masterlight"):
		key.Type = MasterLight
	case strings.HasPrefix(name, "drizzle"):
		key.Type = Drizzle
	case strings.HasPrefix(name, "recombined"):
		key.Type = Recombined
	default:
		return key, false
	}
	key.Variant = Regular
	if strings.Contains(name, "autocrop") || strings.Contains(name, "cropped") {
		key.Variant = Cropped
	}
	return key, true
}

// ownerOf picks the group with the longest folder name contained in name.
func ownerOf(groups []*Group, name string) *Group {
	var best *Group
	for _, g := range groups {
		folder := strings.ToLower(g.FolderName())
		if !strings.Contains(name, folder) {
			continue
		}
		if best == nil || len(folder) > len(best.FolderName()) {
			best = g
		}
	}
	return best
}
