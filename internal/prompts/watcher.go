package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDelay = 250 * time.Millisecond

// Watcher reloads a catalog file into a Selector whenever the file changes.
type Watcher struct {
	path     string
	selector *Selector
	log      *slog.Logger
}

// NewWatcher constructs a Watcher for the catalog at path.
func NewWatcher(path string, selector *Selector, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}

	return &Watcher{
		path:     path,
		selector: selector,
		log:      log,
	}
}

// Run watches the catalog's directory until ctx is cancelled. Editors often replace files
// through rename, so the directory is watched rather than the file itself.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch catalog dir %q: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	var reload <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				reload = time.After(reloadDelay)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("catalog watcher error", slog.Any("error", err))
		case <-reload:
			reload = nil
			w.Reload()
		}
	}
}

// Reload parses the catalog file and installs it when valid.
func (w *Watcher) Reload() bool {
	catalog, warnings, err := LoadCatalogFile(w.path)
	for _, warning := range warnings {
		w.log.Warn("prompt catalog data quality", slog.String("path", w.path), slog.String("issue", warning))
	}
	if err != nil {
		w.log.Error("prompt catalog reload rejected", slog.String("path", w.path), slog.Any("error", err))
		return false
	}

	w.selector.SetCatalog(catalog)
	w.log.Info("prompt catalog reloaded",
		slog.String("path", w.path),
		slog.Int("categories", len(catalog.Categories())),
		slog.Int("prompts", catalog.Size()),
	)
	return true
}

// Load returns the catalog at path, or the built-in catalog when path is empty. Data
// quality warnings are logged.
func Load(path string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		return DefaultCatalog(), nil
	}

	catalog, warnings, err := LoadCatalogFile(path)
	for _, warning := range warnings {
		log.Warn("prompt catalog data quality", slog.String("path", path), slog.String("issue", warning))
	}
	if err != nil {
		return nil, err
	}
	return catalog, nil
}
