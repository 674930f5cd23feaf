package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"github.com/giantswarm/reconcilekit/internal/cache"
	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// File watches a directory of YAML manifests. Each file holds one object; the
// objects are cached and routed to primaries with a Mapper. Bursts of writes to
// the same file are debounced into a single re-read.
type File struct {
	mu sync.Mutex

	name   string
	dir    string
	mapper event.Mapper

	debounceInterval time.Duration

	store *cache.Cache[*unstructured.Unstructured]
	// objects maps a file path to the id of the object it holds
	objects map[string]resource.ID

	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	handler event.Handler
	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
}

// NewFile creates a file source over dir.
func NewFile(name, dir string, mapper event.Mapper, debounceInterval time.Duration) *File {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &File{
		name:             name,
		dir:              dir,
		mapper:           mapper,
		debounceInterval: debounceInterval,
		store:            cache.New[*unstructured.Unstructured](),
		objects:          make(map[string]resource.ID),
		pending:          make(map[string]*time.Timer),
	}
}

// Name returns the source name.
func (f *File) Name() string { return f.name }

// Start loads every manifest in the directory, then watches it for changes.
func (f *File) Start(ctx context.Context, handler event.Handler) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		f.mu.Unlock()
		return fmt.Errorf("failed to create %s: %w", f.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if err := watcher.Add(f.dir); err != nil {
		_ = watcher.Close()
		f.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", f.dir, err)
	}

	f.watcher = watcher
	f.handler = handler
	f.stopCh = make(chan struct{})
	f.running = true
	f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		_ = f.Stop()
		return fmt.Errorf("failed to list %s: %w", f.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		f.sync(filepath.Join(f.dir, entry.Name()))
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.processEvents(ctx, watcher)
	}()

	logging.Info("FileSource", "Started watching %s for manifests", f.dir)
	return nil
}

func (f *File) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			f.cleanupPending()
			return

		case <-f.stopCh:
			f.cleanupPending()
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isYAMLFile(ev.Name) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) ||
				ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				f.debounce(ev.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("FileSource", err, "Filesystem watcher error in %s", f.dir)
		}
	}
}

// debounce re-reads path once no further change arrived for debounceInterval.
func (f *File) debounce(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if timer, ok := f.pending[path]; ok {
		timer.Stop()
	}
	f.pending[path] = time.AfterFunc(f.debounceInterval, func() {
		f.mu.Lock()
		delete(f.pending, path)
		running := f.running
		f.mu.Unlock()

		if running {
			f.sync(path)
		}
	})
}

// sync brings the cache in line with the current content of path.
func (f *File) sync(path string) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		f.remove(path)
		return
	}
	if err != nil {
		logging.Error("FileSource", err, "Failed to read %s", path)
		return
	}

	obj := &unstructured.Unstructured{}
	if err := yaml.Unmarshal(data, &obj.Object); err != nil {
		logging.Error("FileSource", err, "Failed to parse %s", path)
		return
	}
	if obj.GetName() == "" {
		logging.Warn("FileSource", "Ignoring %s: manifest has no metadata.name", path)
		return
	}

	id := resource.FromObject(obj)
	f.mu.Lock()
	previous, hadPrevious := f.objects[path]
	f.objects[path] = id
	f.mu.Unlock()

	if hadPrevious && previous != id {
		if old, ok := f.store.Delete(previous); ok {
			f.emit(old, true)
		}
	}
	if current, ok := f.store.Get(id); ok && equalManifest(current, obj) {
		return
	}
	f.store.Put(id, obj)
	f.emit(obj, false)
}

func (f *File) remove(path string) {
	f.mu.Lock()
	id, ok := f.objects[path]
	delete(f.objects, path)
	f.mu.Unlock()
	if !ok {
		return
	}
	if old, ok := f.store.Delete(id); ok {
		f.emit(old, true)
	}
}

func (f *File) emit(obj *unstructured.Unstructured, deleted bool) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		return
	}
	for _, id := range f.mapper(obj) {
		handler.HandleEvent(event.Event{ID: id, Kind: event.KindSecondary, Object: obj, Deleted: deleted, Source: f.name})
	}
}

// Get returns the manifest object with the given id.
func (f *File) Get(id resource.ID) (*unstructured.Unstructured, bool) {
	return f.store.Get(id)
}

// List returns all loaded manifests.
func (f *File) List() []*unstructured.Unstructured {
	return f.store.List()
}

func (f *File) cleanupPending() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, timer := range f.pending {
		timer.Stop()
	}
	f.pending = make(map[string]*time.Timer)
}

// Stop closes the watcher.
func (f *File) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.handler = nil
	close(f.stopCh)
	watcher := f.watcher
	f.watcher = nil
	f.mu.Unlock()

	f.wg.Wait()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			return fmt.Errorf("failed to close watcher for %s: %w", f.dir, err)
		}
	}
	logging.Info("FileSource", "Stopped watching %s", f.dir)
	return nil
}

func equalManifest(a, b *unstructured.Unstructured) bool {
	return equality.Semantic.DeepEqual(a.Object, b.Object)
}

// isYAMLFile checks if a file path is a YAML file.
func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
