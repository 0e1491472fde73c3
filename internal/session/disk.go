package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edufolio/adminconsole/internal/telemetry/tracing"
	"github.com/edufolio/adminconsole/pkg"

	log "github.com/sirupsen/logrus"
)

var _ Store = (*DiskStore)(nil)

// DiskStore keeps the session as a small JSON object in a single file.
// Every write replaces the file atomically.
type DiskStore struct {
	path   string
	mutex  sync.RWMutex
	values map[string]string
}

func NewDiskStore(path string) (*DiskStore, error) {
	if path == "" {
		return nil, errors.New("session file path cannot be empty")
	}

	dir := filepath.Dir(path)
	dirExists, err := pkg.PathExists(dir, true)
	if err != nil {
		return nil, fmt.Errorf("check session dir: %w", err)
	}
	if !dirExists {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	ds := &DiskStore{
		path:   path,
		values: map[string]string{},
	}
	ds.load()

	return ds, nil
}

// load reads the file once; a missing or broken file is an empty session.
func (ds *DiskStore) load() {
	fileBytes, err := os.ReadFile(ds.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("disk session store, read %s: %s", ds.path, err)
		}
		return
	}

	values := map[string]string{}
	if err := json.Unmarshal(fileBytes, &values); err != nil {
		log.Errorf("disk session store, unmarshal %s: %s", ds.path, err)
		return
	}
	ds.values = values
}

func (ds *DiskStore) Get(ctx context.Context, key string) (string, bool) {
	_, span := tracing.GlobalTracer.Start(ctx, "diskStore.get")
	defer span.End()

	ds.mutex.RLock()
	defer ds.mutex.RUnlock()
	v, ok := ds.values[key]
	return v, ok
}

func (ds *DiskStore) Set(ctx context.Context, key, value string) error {
	_, span := tracing.GlobalTracer.Start(ctx, "diskStore.set")
	defer span.End()

	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	prev, hadPrev := ds.values[key]
	ds.values[key] = value
	if err := ds.flush(); err != nil {
		if hadPrev {
			ds.values[key] = prev
		} else {
			delete(ds.values, key)
		}
		return err
	}
	return nil
}

func (ds *DiskStore) Remove(ctx context.Context, key string) error {
	_, span := tracing.GlobalTracer.Start(ctx, "diskStore.remove")
	defer span.End()

	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	prev, ok := ds.values[key]
	if !ok {
		return nil
	}
	delete(ds.values, key)
	if err := ds.flush(); err != nil {
		ds.values[key] = prev
		return err
	}
	return nil
}

func (ds *DiskStore) flush() error {
	fileBytes, err := json.Marshal(ds.values)
	if err != nil {
		return fmt.Errorf("marshal session values: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(ds.path), ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(fileBytes); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}

	if err := os.Rename(tmpPath, ds.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
