package store

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/b0bbywan/go-portal-backend/events"
	"github.com/b0bbywan/go-portal-backend/logger"
)

// startWatcher watches the store directory so tokens revoked out of band,
// deleted by an admin or a settings tool, drop out of the index immediately.
func (s *Store) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Info("[store] failed to close watcher: %v", closeErr)
		}
		return err
	}

	logger.Info("[store] revocation watcher started, monitoring %s", s.dir)
	go s.listenFSNotify(watcher)
	return nil
}

func (s *Store) listenFSNotify(watcher *fsnotify.Watcher) {
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Warn("[store] failed to close watcher: %v", err)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.dispatchFSNotify(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("[store] fsnotify watcher error: %v", err)
		}
	}
}

func (s *Store) dispatchFSNotify(event fsnotify.Event) {
	basename := filepath.Base(event.Name)
	if !strings.HasSuffix(basename, ".json") {
		return
	}
	token := strings.TrimSuffix(basename, ".json")

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if _, known := s.index.Get(token); !known {
			return
		}
		logger.Info("[store] token file removed, revoking")
		s.index.Delete(token)
		s.notify(events.TypeTokenRevoked, token)

	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		// Records written by this process are already indexed; this picks up
		// records dropped in by other tooling.
		rec, err := s.readRecord(event.Name)
		if err != nil {
			logger.Debug("[store] ignoring %s: %v", basename, err)
			return
		}
		s.index.Set(rec.Token, rec)
	}
}
