package tasks

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInboxWatcherEmitsSettledProducts(t *testing.T) {
	dir := t.TempDir()
	iw, err := NewInboxWatcher([]string{dir}, 50*time.Millisecond, discardLog())
	if err != nil {
		t.Fatal(err)
	}
	defer iw.Stop()

	path := filepath.Join(dir, "ceers_f200w_i2d.fits")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-iw.Events:
		if ev.Path != path {
			t.Fatalf("event for %s, want %s", ev.Path, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event for new i2d product")
	}
}

func TestInboxWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	iw, err := NewInboxWatcher([]string{dir}, 50*time.Millisecond, discardLog())
	if err != nil {
		t.Fatal(err)
	}
	defer iw.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-iw.Events:
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestIsI2DProduct(t *testing.T) {
	cases := map[string]bool{
		"ceers_f200w_i2d.fits": true,
		"CEERS_F200W_I2D.FITS": true,
		"ceers_f200w_sci.fits": false,
		"notes.txt":            false,
	}
	for name, want := range cases {
		if got := isI2DProduct(name); got != want {
			t.Errorf("isI2DProduct(%q) = %v, want %v", name, got, want)
		}
	}
}
