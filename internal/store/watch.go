package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/keagan/eventcut/pkg/util"
)

// Change is an artifact appearing in or leaving the store.
type Change struct {
	Name    string
	Present bool
}

// Watch reports artifacts registered or pruned until ctx is done.
// Sidecars and in-flight files are not reported.
func (s *Store) Watch(ctx context.Context, fn func(Change)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Debug().Str("dir", s.dir).Msg("watching store")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if c, ok := s.classify(event); ok {
				fn(c)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("store watcher error")
		}
	}
}

func (s *Store) classify(event fsnotify.Event) (Change, bool) {
	name := filepath.Base(event.Name)
	if !IsArtifactName(name) {
		return Change{}, false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return Change{}, false
	}
	// a rename fires for both ends, so the file's presence decides
	return Change{Name: name, Present: util.FileExists(event.Name)}, true
}
