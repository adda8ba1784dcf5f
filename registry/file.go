package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// fileDocument is the YAML schema of a File registry source.
//
//	services:
//	  orders:
//	    - host: 10.0.0.5
//	      port: 8080
//	      secure: false
//	      metadata:
//	        zone: us-east-1a
type fileDocument struct {
	Services map[string][]Endpoint `yaml:"services"`
}

// File is a Registry backed by a YAML file, reloaded on change.
//
// The file is parsed once at construction and re-parsed whenever the watcher
// reports a write or create event for it. A reload swaps the whole service
// map atomically; a reload that fails to parse keeps the previous snapshot.
type File struct {
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	services map[string][]Endpoint

	closeOnce sync.Once
	done      chan struct{}
}

// Compile-time interface check.
var _ Registry = (*File)(nil)

// FileOption configures a File registry.
type FileOption func(*File)

// WithFileLogger sets the logger used for reload events.
func WithFileLogger(log zerolog.Logger) FileOption {
	return func(f *File) {
		f.log = log
	}
}

// NewFile creates a File registry from the YAML file at path and starts
// watching it for changes. Close must be called to release the watcher.
func NewFile(path string, opts ...FileOption) (*File, error) {
	f := &File{
		path: path,
		log:  zerolog.Nop(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := f.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("registry: create watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files via rename,
	// which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("registry: watch %s: %w", path, err)
	}
	f.watcher = watcher

	go f.watch()
	return f, nil
}

// Endpoints implements Registry. Unknown services yield an empty slice.
func (f *File) Endpoints(service string) []Endpoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.services[service]
}

// Close stops watching the backing file.
func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.watcher != nil {
			err = f.watcher.Close()
		}
	})
	return err
}

func (f *File) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", f.path, err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("registry: parse %s: %w", f.path, err)
	}

	services := make(map[string][]Endpoint, len(doc.Services))
	total := 0
	for name, eps := range doc.Services {
		services[name] = cloneEndpoints(eps)
		total += len(eps)
	}

	f.mu.Lock()
	f.services = services
	f.mu.Unlock()

	f.log.Info().
		Str("path", f.path).
		Int("services", len(services)).
		Int("endpoints", total).
		Msg("endpoint registry loaded")
	return nil
}

func (f *File) watch() {
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := f.reload(); err != nil {
				// Keep serving the previous snapshot.
				f.log.Warn().Err(err).Str("path", f.path).
					Msg("endpoint registry reload failed, keeping previous snapshot")
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("endpoint registry watcher error")
		}
	}
}
