package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtension is the tool script file extension.
const DefaultExtension = ".ps1"

// Scan returns every script under dir with the given extension, in
// lexical walk order. Files whose name starts with "_" are helpers and
// are excluded. A missing dir yields no scripts.
func Scan(dir, ext string) ([]string, error) {
	if ext == "" {
		ext = DefaultExtension
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.EqualFold(filepath.Ext(name), ext) || strings.HasPrefix(name, "_") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return paths, nil
}

// Builder generates a [Catalog] from a scripts directory.
type Builder struct {
	dir    string
	ext    string
	logger *slog.Logger
}

// NewBuilder creates a builder for dir. An empty ext means
// [DefaultExtension].
func NewBuilder(dir, ext string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if ext == "" {
		ext = DefaultExtension
	}
	return &Builder{dir: dir, ext: ext, logger: logger.With("component", "catalog")}
}

// Generate scans the scripts directory and converts every script with
// valid metadata. Scripts that cannot be read, lack a metadata block or
// fail validation are logged and skipped; they never abort the build.
func (b *Builder) Generate() (*Catalog, error) {
	paths, err := Scan(b.dir, b.ext)
	if err != nil {
		return nil, err
	}

	cat := New()
	for _, path := range paths {
		meta, err := b.readMetadata(path)
		if err != nil {
			b.logger.Warn("skipping script", "path", path, "error", err)
			continue
		}
		if stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)); meta.ID != stem {
			b.logger.Warn("skipping script whose id does not match its file name", "path", path, "id", meta.ID, "want", stem)
			continue
		}
		if _, dup := cat.RiskLevels[meta.ID]; dup {
			b.logger.Warn("skipping script with duplicate id", "path", path, "id", meta.ID)
			continue
		}
		level, ok := ParseRiskLevel(meta.RiskLevel)
		if !ok {
			b.logger.Warn("unrecognized risk level", "path", path, "risk_level", meta.RiskLevel)
		}
		cat.Add(ToToolSchema(meta), level)
	}

	b.logger.Info("catalog generated", "dir", b.dir, "scripts", len(paths), "tools", cat.Len())
	return cat, nil
}

func (b *Builder) readMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, ok := ExtractMetadataBlock(string(data))
	if !ok {
		return nil, &ValidationError{Reason: "no metadata block"}
	}
	return ParseMetadata(block)
}
