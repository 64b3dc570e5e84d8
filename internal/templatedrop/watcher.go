package templatedrop

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/storage"
)

// settle is how long a file must stay quiet before it is uploaded, so a
// save that arrives as several writes is uploaded once.
const settle = 200 * time.Millisecond

// Watch scans the drop folder once, then processes file change events until
// ctx is cancelled.
//
// New directories created at runtime are added to the watch list. Writes are
// collected and processed after the folder has been quiet for a moment.
// Removed or renamed-away files lose their upload record.
func (s *Syncer) Watch(ctx context.Context) error {
	root := s.store.Root()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	s.log.Info("watcher started", zap.String("root", root))

	if err := s.Scan(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("initial scan failed", zap.Error(err))
	}

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func(rel string) {
		pending[rel] = struct{}{}
		if flushTimer == nil {
			flushTimer = time.NewTimer(settle)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(settle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			s.log.Info("watcher stopped")
			return nil

		case <-flushCh:
			for rel := range pending {
				_, _ = s.Process(ctx, rel)
				delete(pending, rel)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						s.log.Warn("add new dir failed", zap.String("path", absPath), zap.Error(addErr))
					} else {
						s.log.Debug("watching new dir", zap.String("path", absPath))
					}
					for _, rel := range templatesUnder(root, absPath) {
						schedule(rel)
					}
					continue
				}
			}

			name := filepath.Base(absPath)
			if strings.HasPrefix(name, ".") || !storage.IsTemplate(name) {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				schedule(rel)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rename fires on the old path only; the new path arrives
				// as its own Create.
				delete(pending, rel)
				s.Forget(rel)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Error("watcher error", zap.Error(watchErr))
		}
	}
}

// templatesUnder lists template files already present in a new directory.
func templatesUnder(root, dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") || !storage.IsTemplate(d.Name()) {
			return nil
		}
		if rel, relErr := filepath.Rel(root, p); relErr == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
