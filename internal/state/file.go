package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// fileStore keeps marks in a yaml document keyed by namespace then key.
type fileStore struct {
	path      string
	namespace string
	mu        sync.Mutex
}

func openFile(path, namespace string) (*fileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &fileStore{path: path, namespace: namespace}, nil
}

func (f *fileStore) load() (map[string]map[string]int64, error) {
	doc := map[string]map[string]int64{}
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	if doc == nil {
		doc = map[string]map[string]int64{}
	}
	return doc, nil
}

func (f *fileStore) get(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return 0, err
	}
	return doc[f.namespace][key], nil
}

func (f *fileStore) set(_ context.Context, key string, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc[f.namespace] == nil {
		doc[f.namespace] = map[string]int64{}
	}
	doc[f.namespace][key] = value

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return writeAtomic(f.path, data)
}

func (f *fileStore) close() error { return nil }

// writeAtomic writes data to a temp file in the same directory and renames it
// over path, so readers never observe a partial write.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
