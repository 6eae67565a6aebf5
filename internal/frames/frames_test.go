package frames

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("frame"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestActiveFramesSkipsFailed(t *testing.T) {
	g := &Group{Items: []*Item{NewItem("a"), NewItem("b"), NewItem("c")}}
	g.Items[1].Fail()
	g.Items[2].Succeed(2001000, "out/c")

	active := g.ActiveFrames()
	if len(active) != 2 || active[0].Source != "a" || active[1].Source != "c" {
		t.Fatalf("unexpected active frames %+v", active)
	}
	if active[1].Current != "out/c" || active[1].StepCode != 2001000 {
		t.Fatalf("succeeded item not updated: %+v", active[1])
	}
}

func TestMasterKeysOrder(t *testing.T) {
	keys := MasterKeys()
	want := []string{
		"MASTER_LIGHT_REGULAR", "MASTER_LIGHT_CROPPED",
		"DRIZZLE_REGULAR", "DRIZZLE_CROPPED",
		"RECOMBINED_REGULAR", "RECOMBINED_CROPPED",
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i, k := range keys {
		if k.String() != want[i] {
			t.Fatalf("key %d = %s, want %s", i, k, want[i])
		}
	}
}

func TestMasterKeyForNameIgnoresDirAndExtension(t *testing.T) {
	g := &Group{Masters: map[MasterKey]string{
		{Type: Drizzle, Variant: Cropped}: "/masters/drizzle_LIGHT_FILTER-Ha_autocrop.xisf",
	}}
	key, ok := g.MasterKeyForName("/out/onPostProcessEnd/drizzle_LIGHT_FILTER-Ha_autocrop.fits")
	if !ok || key != (MasterKey{Type: Drizzle, Variant: Cropped}) {
		t.Fatalf("expected drizzle cropped match, got %v %v", key, ok)
	}
	if _, ok := g.MasterKeyForName("/out/other.xisf"); ok {
		t.Fatalf("unexpected match for unrelated file")
	}
}

func TestDiscoverBuildsGroupsFromLayout(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "lights", "FILTER_Ha", "EXPOSURE_300", "l_001.fits"))
	touch(t, filepath.Join(root, "lights", "FILTER_Ha", "EXPOSURE_300", "l_002.fits"))
	touch(t, filepath.Join(root, "lights", "FILTER_OIII", "l_001.fits"))
	touch(t, filepath.Join(root, "darks", "d_001.fits"))
	touch(t, filepath.Join(root, "lights", "CHANNEL_RGB", "FILTER_L", "l_001.fits"))

	masters := filepath.Join(root, "master")
	touch(t, filepath.Join(masters, "masterLight_LIGHT_EXPOSURE-300_FILTER-Ha.xisf"))
	touch(t, filepath.Join(masters, "masterLight_LIGHT_EXPOSURE-300_FILTER-Ha_autocrop.xisf"))
	touch(t, filepath.Join(masters, "masterDark.xisf"))

	groups, err := Discover(root, masters)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(groups) != 4 {
		t.Fatalf("expected 4 groups, got %d: %v", len(groups), groups)
	}
	for i, g := range groups {
		if g.Index != i {
			t.Fatalf("group %s has index %d at position %d", g.Name, g.Index, i)
		}
	}

	var ha, dark, combined *Group
	for _, g := range groups {
		switch {
		case g.ImageType == ImageDark:
			dark = g
		case g.Channel == ChannelCombined:
			combined = g
		case g.Keywords["filter"] == "Ha":
			ha = g
		}
	}
	if ha == nil || dark == nil || combined == nil {
		t.Fatalf("missing expected groups: %v", groups)
	}
	if len(ha.Items) != 2 || ha.Keywords["exposure"] != "300" {
		t.Fatalf("unexpected Ha group %+v", ha)
	}
	if ha.FrameSize != int64(len("frame")) {
		t.Fatalf("expected frame size estimate, got %d", ha.FrameSize)
	}
	if ha.MasterFile(MasterKey{Type: MasterLight, Variant: Regular}) == "" ||
		ha.MasterFile(MasterKey{Type: MasterLight, Variant: Cropped}) == "" {
		t.Fatalf("expected both master light variants, got %v", ha.Masters)
	}
	if !ha.Calibrated || dark.Calibrated {
		t.Fatalf("calibration flag should be set on lights only")
	}
}

func TestKeywordIgnoresCase(t *testing.T) {
	g := &Group{Keywords: map[string]string{"FILTER": "Ha", "exposure": "300"}}
	for _, name := range []string{"filter", "FILTER", "Filter"} {
		if v, ok := g.Keyword(name); !ok || v != "Ha" {
			t.Fatalf("Keyword(%q) = %q, %v", name, v, ok)
		}
	}
	if v, ok := g.Keyword("EXPOSURE"); !ok || v != "300" {
		t.Fatalf("Keyword(EXPOSURE) = %q, %v", v, ok)
	}
	if _, ok := g.Keyword("gain"); ok {
		t.Fatalf("undeclared keyword must not be found")
	}
}
