package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bep/debounce"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

var (
	ErrNoWatchedDirs  = errors.New("no directories to watch")
	ErrInvalidPattern = errors.New("invalid source pattern")
)

// A Watcher invalidates a session when a source file changes in the watched directories
// (subdirectories included). Bursts of changes cause a single invalidation.
type Watcher struct {
	*fsnotify.Watcher
	session *Session
	done    chan struct{}

	lock           sync.Mutex
	roots          map[string]string //watched directory -> root passed to StartWatching
	pendingReasons []string
	debounce       func(f func())
	closed         bool

	closeOnce sync.Once
}

// StartWatching adds the directories and their subdirectories to a new watcher and starts
// listening for events in a new goroutine.
func (s *Session) StartWatching(dirs ...string) (*Watcher, error) {
	if len(dirs) == 0 {
		return nil, ErrNoWatchedDirs
	}

	for _, pattern := range s.sourcePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPattern, pattern)
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		Watcher:  fsWatcher,
		session:  s,
		done:     make(chan struct{}),
		roots:    map[string]string{},
		debounce: debounce.New(s.invalidationDelay),
	}

	for _, dir := range dirs {
		root, err := filepath.Abs(dir)
		if err != nil {
			fsWatcher.Close()
			return nil, err
		}
		if err := w.addTree(root, root); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}

	go w.listenForEvents()
	return w, nil
}

// Watch watches the directories until ctx is done.
func (s *Session) Watch(ctx context.Context, dirs ...string) error {
	w, err := s.StartWatching(dirs...)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-w.done:
	}
	return w.Close()
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		//pending invalidations are dropped.
		w.lock.Lock()
		w.closed = true
		w.pendingReasons = nil
		w.lock.Unlock()

		err = w.Watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) addTree(root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			return err
		}

		w.lock.Lock()
		w.roots[path] = root
		w.lock.Unlock()
		return nil
	})
}

func (w *Watcher) rootOf(dir string) (string, bool) {
	w.lock.Lock()
	defer w.lock.Unlock()
	root, ok := w.roots[dir]
	return root, ok
}

func (w *Watcher) isSourceFile(path string) bool {
	root, ok := w.rootOf(filepath.Dir(path))
	if !ok {
		return false
	}
	relpath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	relpath = filepath.ToSlash(relpath)

	for _, pattern := range w.session.sourcePatterns {
		if ok, _ := doublestar.Match(pattern, relpath); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) invalidateSoon(reason string) {
	w.lock.Lock()
	if w.closed {
		w.lock.Unlock()
		return
	}
	w.pendingReasons = append(w.pendingReasons, reason)
	w.lock.Unlock()

	w.debounce(func() {
		w.lock.Lock()
		if w.closed {
			w.lock.Unlock()
			return
		}
		reasons := w.pendingReasons
		w.pendingReasons = nil
		w.lock.Unlock()

		switch len(reasons) {
		case 0:
		case 1:
			w.session.Invalidate(reasons[0])
		default:
			w.session.Invalidate(fmt.Sprintf("%s (and %d other changes)", reasons[0], len(reasons)-1))
		}
	})
}

func (w *Watcher) listenForEvents() {
	defer close(w.done)

	logger := w.session.logger

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				info, err := os.Lstat(event.Name)
				if err == nil && info.IsDir() {
					root, ok := w.rootOf(filepath.Dir(event.Name))
					if !ok {
						continue
					}
					if err := w.addTree(root, event.Name); err != nil {
						logger.Err(err).Str("dir", event.Name).Msg("failed to watch new directory")
					}
					//the directory may already contain files.
					w.invalidateSoon("directory created: " + event.Name)
					continue
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.lock.Lock()
				_, isWatchedDir := w.roots[event.Name]
				delete(w.roots, event.Name)
				w.lock.Unlock()

				if isWatchedDir {
					w.invalidateSoon("directory removed: " + event.Name)
					continue
				}
			}

			if !w.isSourceFile(event.Name) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.invalidateSoon(event.Op.String() + " " + event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Err(err).Msg("file watcher error")
		}
	}
}
