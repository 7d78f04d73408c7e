package scriptwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/scriptvoice/internal/catalog"
	"github.com/nugget/scriptvoice/internal/events"
	"github.com/nugget/scriptvoice/internal/toolindex"
)

const calculatorScript = `<#
id: open-calculator
name: Open Calculator
description: Opens the calculator
category: apps
risk_level: low
side_effects: launches a process
parameters: []
examples:
  - description: open calculator
#>
Start-Process calc.exe
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, dir string) <-chan struct{} {
	t.Helper()
	refreshed := make(chan struct{}, 8)
	w := New(dir, ".ps1", 50*time.Millisecond, func(context.Context) error {
		refreshed <- struct{}{}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)
	return refreshed
}

func expectRefresh(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no refresh")
	}
}

func expectQuiet(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected refresh")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	refreshed := startWatcher(t, dir)

	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(dir, "a.ps1"), calculatorScript)
	}
	writeFile(t, filepath.Join(dir, "b.PS1"), calculatorScript)

	expectRefresh(t, refreshed)
	expectQuiet(t, refreshed)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	refreshed := startWatcher(t, dir)

	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")
	expectQuiet(t, refreshed)
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	refreshed := startWatcher(t, dir)

	sub := filepath.Join(dir, "audio")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	expectRefresh(t, refreshed)

	// Allow the new directory to be registered before writing into it.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(sub, "mute.ps1"), "Write-Host muted")
	expectRefresh(t, refreshed)
}

func TestReloader(t *testing.T) {
	dir := t.TempDir()
	data := t.TempDir()
	writeFile(t, filepath.Join(dir, "open-calculator.ps1"), calculatorScript)
	writeFile(t, filepath.Join(dir, "restart-explorer.ps1"), "Stop-Process explorer")

	idx := toolindex.New(dir, ".ps1", filepath.Join(data, "semantic_index.json"), nil)
	bus := events.New()
	ch := bus.Subscribe(4)

	var applied *catalog.Catalog
	r := &Reloader{
		Builder:     catalog.NewBuilder(dir, ".ps1", nil),
		CatalogPath: filepath.Join(data, "tools.json"),
		Index:       idx,
		Apply:       func(c *catalog.Catalog) { applied = c },
		Events:      bus,
	}
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if applied == nil || applied.Len() != 1 {
		t.Fatalf("applied catalog = %+v", applied)
	}
	saved, err := catalog.Load(r.CatalogPath)
	if err != nil || saved.Len() != 1 {
		t.Errorf("saved catalog = %+v, %v", saved, err)
	}
	if n := idx.Snapshot().Len(); n != 2 {
		t.Errorf("indexed scripts = %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(data, "semantic_index.json")); err != nil {
		t.Errorf("index not persisted: %v", err)
	}

	select {
	case e := <-ch:
		if e.Kind != events.KindRebuilt || e.Data["tools"] != 1 || e.Data["scripts"] != 2 {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no rebuilt event")
	}
}
