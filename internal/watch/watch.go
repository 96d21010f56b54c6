package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/botctl/internal/syncer"
)

var ErrInvalidWatch = errors.New("watch: invalid watch config")

// Watcher re-runs the deploy callback whenever the local tree changes.
// Changes under excluded paths are ignored and rapid bursts collapse
// into one run after the debounce window settles.
type Watcher struct {
	Root     string
	Rules    syncer.Rules
	Debounce time.Duration
	Deploy   func(context.Context) error
}

// Run blocks until the context ends. A failed deploy keeps the watch
// alive; the next burst tries again.
func (w Watcher) Run(ctx context.Context) error {
	if w.Deploy == nil {
		return fmt.Errorf("%w: deploy callback is required", ErrInvalidWatch)
	}
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return err
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addDirs(watcher, root); err != nil {
		return err
	}
	log.Info().Str("root", root).Dur("debounce", debounce).Msg("watch.run started")

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watch.run shutdown")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.skip(root, event) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						log.Warn().Str("dir", event.Name).Err(err).Msg("watch.run add dir failed")
					}
				}
			}
			log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("watch.run change")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch.run watcher error")

		case <-timer.C:
			log.Info().Msg("watch.run change burst settled")
			if err := w.Deploy(ctx); err != nil {
				log.Error().Err(err).Msg("watch.run deploy failed")
			}
		}
	}
}

func (w Watcher) addDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel != "." && w.Rules.Excluded(rel) {
			return fs.SkipDir
		}
		return watcher.Add(path)
	})
}

func (w Watcher) skip(root string, event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		return true
	}
	return w.Rules.Excluded(rel)
}
