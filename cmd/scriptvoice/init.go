package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nugget/scriptvoice/examples"
)

// runInit creates a working directory with the example config, a
// scripts directory holding an annotated template and an empty data
// directory. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing scriptvoice workspace in %s\n", dir)

	for _, sub := range []string{"scripts", "data"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	files := []struct {
		path    string
		content []byte
		perm    fs.FileMode
	}{
		// The config may carry an API key and broker password.
		{filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600},
		{filepath.Join(dir, "scripts", "_template.ps1"), examples.ScriptTemplate, 0o644},
	}
	for _, f := range files {
		written, err := writeIfMissing(f.path, f.content, f.perm)
		if err != nil {
			return err
		}
		if written {
			fmt.Fprintf(w, "  ✓ %s\n", f.path)
		} else {
			fmt.Fprintf(w, "  - %s (exists, skipping)\n", f.path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Copy scripts/_template.ps1 to a new name, fill in its metadata block,")
	fmt.Fprintln(w, "then run 'scriptvoice catalog' and 'scriptvoice index'.")
	return nil
}

// writeIfMissing writes content to path only if nothing exists there.
// It reports whether the file was written.
func writeIfMissing(path string, content []byte, perm fs.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", path, err)
	}
	return true, nil
}
