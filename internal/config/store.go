package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/event_bus"
	"gopkg.in/yaml.v3"
)

// Store holds the live configuration. Edits made through Update are validated,
// written back to the YAML file and announced on the bus, so components pick
// them up without a restart.
type Store struct {
	mu      sync.RWMutex
	path    string
	current Application
	bus     *event_bus.EventBus
}

func NewStore(path string, app Application, bus *event_bus.EventBus) *Store {
	return &Store{path: path, current: app.clone(), bus: bus}
}

func (s *Store) Get() Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

func (s *Store) Update(ctx context.Context, fn func(app *Application) error) (Application, error) {
	s.mu.Lock()
	next := s.current.clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return Application{}, err
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return Application{}, err
	}
	if s.path != "" {
		if err := save(s.path, next); err != nil {
			s.mu.Unlock()
			return Application{}, fmt.Errorf("failed to save configuration: %w", err)
		}
	}
	changed := changedAccounts(s.current.Accounts, next.Accounts)
	s.current = next
	s.mu.Unlock()

	log.Infof("configuration updated, %d account(s) changed", len(changed))
	if s.bus != nil {
		err := s.bus.Publish(event_bus.NewEvent(ctx, event_bus.ConfigUpdatedType, event_bus.ConfigUpdated{
			ChangedAccounts: changed,
		}))
		if err != nil {
			log.Errorf("failed to publish configuration update: %v", err)
		}
	}
	return next.clone(), nil
}

func changedAccounts(before, after map[string]Account) []string {
	var changed []string
	for id, acc := range after {
		if prev, ok := before[id]; !ok || prev != acc {
			changed = append(changed, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

// save writes the configuration atomically via a temp file + rename.
func save(path string, app Application) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(app)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".solcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
