package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/b0bbywan/go-portal-backend/cache"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/consent"
	"github.com/b0bbywan/go-portal-backend/events"
	"github.com/b0bbywan/go-portal-backend/logger"
)

var ErrDisabled = errors.New("store: persistence is disabled")

// Record is one persisted grant. A token handed back to an app on a
// successful start lets it skip the dialog on a later start, as long as the
// app id and portal kind match.
type Record struct {
	Token     string           `json:"token"`
	AppID     string           `json:"app_id"`
	Portal    string           `json:"portal"`
	Sources   []consent.Source `json:"sources,omitempty"`
	Devices   uint32           `json:"devices,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Store persists grant records as one JSON file per token and keeps an
// in-memory index in front of the directory. Files are owner-only: a token is
// a capability.
type Store struct {
	dir   string
	index *cache.Cache[Record]

	ctx     context.Context
	cancel  context.CancelFunc
	eventsC chan events.Event
}

// New opens the store directory, loads existing records and starts the
// revocation watcher.
func New(ctx context.Context, cfg *config.StoreConfig) (*Store, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Store{
		dir:     cfg.Dir,
		index:   cache.New[Record](0),
		ctx:     ctx,
		cancel:  cancel,
		eventsC: make(chan events.Event, 16),
	}

	loaded, err := s.loadAll()
	if err != nil {
		cancel()
		return nil, err
	}
	logger.Info("[store] loaded %d token(s) from %s", loaded, cfg.Dir)

	if err := s.startWatcher(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Events exposes revocation events for the broadcaster.
func (s *Store) Events() <-chan events.Event {
	return s.eventsC
}

func (s *Store) Close() {
	s.cancel()
}

func (s *Store) path(token string) string {
	return filepath.Join(s.dir, token+".json")
}

// Issue mints a token for one grant and persists it.
func (s *Store) Issue(appID, portal string, sources []consent.Source, devices uint32) (string, error) {
	rec := Record{
		Token:     uuid.NewString(),
		AppID:     appID,
		Portal:    portal,
		Sources:   sources,
		Devices:   devices,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.path(rec.Token), data, 0o600); err != nil {
		return "", err
	}
	s.index.Set(rec.Token, rec)
	logger.Debug("[store] issued token for %s/%s", appID, portal)
	return rec.Token, nil
}

// Lookup resolves a token presented by appID for one portal kind. Unknown,
// foreign and mismatched tokens all read as not-found.
func (s *Store) Lookup(appID, portal, token string) (Record, bool) {
	if token == "" {
		return Record{}, false
	}
	rec, ok := s.index.Get(token)
	if !ok {
		return Record{}, false
	}
	if rec.AppID != appID || rec.Portal != portal {
		logger.Warn("[store] token presented by %s does not match its grant", appID)
		return Record{}, false
	}
	return rec, true
}

// Revoke drops a token. Removing the file also trips the watcher; the index
// delete here keeps the store consistent even when the watcher lags.
func (s *Store) Revoke(token string) error {
	s.index.Delete(token)
	err := os.Remove(s.path(token))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) loadAll() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.readRecord(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			logger.Warn("[store] skipping unreadable record %s: %v", entry.Name(), err)
			continue
		}
		s.index.Set(rec.Token, rec)
		loaded++
	}
	return loaded, nil
}

func (s *Store) readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	if rec.Token == "" || rec.AppID == "" {
		return Record{}, errors.New("store: record missing token or app id")
	}
	return rec, nil
}

func (s *Store) notify(eventType string, data interface{}) {
	select {
	case s.eventsC <- events.Event{Type: eventType, Data: data}:
	default:
		logger.Warn("[store] event channel full, dropping %s", eventType)
	}
}
