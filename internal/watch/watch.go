// Package watch reports source file changes under a project root, either by polling
// modification times or through fsnotify events.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/devserve/internal/telemetry"
)

const defaultDebounce = 100 * time.Millisecond

// ChangeFunc receives the root relative paths that changed since the last call.
type ChangeFunc func(ctx context.Context, paths []string)

type Options struct {
	UsePolling bool
	// Poll interval, only used when UsePolling is set
	Interval time.Duration
	// Quiet period before changes are delivered
	Debounce time.Duration
	// Root relative directories never watched, in addition to node_modules and dot directories
	Ignore []string
}

// Watcher monitors a project tree for changes.
type Watcher struct {
	root string
	opts Options
}

func New(root string, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Watcher{root: root, opts: opts}
}

// Run blocks until ctx is cancelled, calling fn with batches of changed paths.
func (w *Watcher) Run(ctx context.Context, fn ChangeFunc) error {
	if w.opts.UsePolling {
		return w.poll(ctx, fn)
	}
	return w.notify(ctx, fn)
}

type fileState struct {
	modTime time.Time
	size    int64
}

func (w *Watcher) poll(ctx context.Context, fn ChangeFunc) error {
	log := zerolog.Ctx(ctx)

	prev, err := w.snapshot()
	if err != nil {
		return err
	}

	log.Debug().Str("root", w.root).Dur("interval", w.opts.Interval).Int("files", len(prev)).Msg("Polling for changes")

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			next, err := w.snapshot()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to scan for changes")
				continue
			}
			if changed := diff(prev, next); len(changed) > 0 {
				w.deliver(ctx, fn, changed)
			}
			prev = next
		}
	}
}

func (w *Watcher) snapshot() (map[string]fileState, error) {
	files := make(map[string]fileState)
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// files can vanish between listing and stat
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != w.root && w.ignored(path) {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[w.rel(path)] = fileState{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return files, err
}

func diff(prev, next map[string]fileState) []string {
	var changed []string
	for path, st := range next {
		if old, ok := prev[path]; !ok || !old.modTime.Equal(st.modTime) || old.size != st.size {
			changed = append(changed, path)
		}
	}
	for path := range prev {
		if _, ok := next[path]; !ok {
			changed = append(changed, path)
		}
	}
	slices.Sort(changed)
	return changed
}

func (w *Watcher) notify(ctx context.Context, fn ChangeFunc) error {
	log := zerolog.Ctx(ctx)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	// fsnotify is not recursive, register every directory up front
	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	flush := make(chan struct{}, 1)
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod || w.ignored(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name); err != nil {
						log.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch directory")
					}
				}
			}
			pending[w.rel(event.Name)] = struct{}{}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.opts.Debounce, func() {
				select {
				case flush <- struct{}{}:
				default:
				}
			})

		case <-flush:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			clear(pending)
			slices.Sort(changed)
			w.deliver(ctx, fn, changed)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) deliver(ctx context.Context, fn ChangeFunc, changed []string) {
	telemetry.GetMetrics().FileChangesTotal.Add(ctx, int64(len(changed)))
	zerolog.Ctx(ctx).Debug().Strs("files", changed).Msg("Detected changes")
	fn(ctx, changed)
}

// ignored reports whether path, or any directory above it inside the root, is excluded.
func (w *Watcher) ignored(path string) bool {
	rel := w.rel(path)
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if part == "node_modules" || strings.HasPrefix(part, ".") {
			return true
		}
	}
	for _, ig := range w.opts.Ignore {
		ig = filepath.ToSlash(filepath.Clean(ig))
		if rel == ig || strings.HasPrefix(rel, ig+"/") {
			return true
		}
	}
	return false
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
