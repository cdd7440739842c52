package tasks

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFrameName(t *testing.T) {
	cases := []struct {
		name   string
		field  string
		filter string
		wave   int
		long   bool
	}{
		{"ceers_f200w_i2d.fits", "ceers", "f200w", 200, false},
		{"ceers-f444w-i2d.fits", "ceers", "f444w", 444, true},
		{"primer_uds_f115w_i2d.fits", "primer", "f115w", 115, false},
		{"hudf_f356w_v2_i2d.fits", "hudf", "f356w", 356, true},
		{"abell2744_F410M_i2d.fits", "abell2744", "f410m", 410, true},
		{"ceers_f250n2_i2d.fits", "ceers", "f250n2", 250, true},
	}
	for _, c := range cases {
		frame, err := ParseFrameName(c.name)
		if err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		if frame.Field != c.field || frame.Filter != c.filter || frame.Wave != c.wave {
			t.Errorf("%s: got field=%s filter=%s wave=%d", c.name, frame.Field, frame.Filter, frame.Wave)
		}
		if frame.LongWave() != c.long {
			t.Errorf("%s: LongWave=%v, want %v", c.name, frame.LongWave(), c.long)
		}
	}
}

func TestParseFrameNameRejectsUnparseable(t *testing.T) {
	for _, name := range []string{"readme.fits", "ceers_i2d.fits", "ceers_grism_i2d.fits"} {
		if _, err := ParseFrameName(name); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDiscoverFramesSortsByWavelength(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"ceers_f444w_i2d.fits",
		"ceers_f115w_i2d.fits",
		"ceers_f277w_i2d.fits",
		"notes.txt",
		"badname_i2d.fits", // unparseable, skipped
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	frames, err := DiscoverFrames(dir)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(frames))
	for i, f := range frames {
		got[i] = f.Filter
	}
	want := []string{"f115w", "f277w", "f444w"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDiscoverSplitFramesIgnoresBkgSub(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"ceers_f200w_sci.fits",
		"ceers_f200w_wht.fits",
		"ceers_f200w_sci_bkgsub.fits",
		"ceers_f444w_sci.fits",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	frames, err := DiscoverSplitFrames(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Filter != "f200w" || frames[1].Filter != "f444w" {
		t.Fatalf("got %s, %s", frames[0].Filter, frames[1].Filter)
	}
}
