package scriptwatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/scriptvoice/internal/catalog"
	"github.com/nugget/scriptvoice/internal/events"
	"github.com/nugget/scriptvoice/internal/toolindex"
)

// Reloader regenerates the catalog file and rebuilds the index, then
// hands the new catalog to Apply.
type Reloader struct {
	Builder     *catalog.Builder
	CatalogPath string
	Index       *toolindex.Index
	Apply       func(*catalog.Catalog)
	Events      *events.Bus
	Logger      *slog.Logger
}

// Reload performs one refresh. It satisfies [RefreshFunc].
func (r *Reloader) Reload(_ context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cat, err := r.Builder.Generate()
	if err != nil {
		return fmt.Errorf("generate catalog: %w", err)
	}
	if r.CatalogPath != "" {
		if err := cat.Save(r.CatalogPath); err != nil {
			return err
		}
	}

	scripts := 0
	if r.Index != nil {
		if scripts, err = r.Index.Rebuild(); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
	}
	if r.Apply != nil {
		r.Apply(cat)
	}

	logger.Info("scripts reloaded", "tools", cat.Len(), "scripts", scripts)
	r.Events.Emit(events.SourceIndex, events.KindRebuilt, map[string]any{
		"tools":   cat.Len(),
		"scripts": scripts,
	})
	return nil
}
