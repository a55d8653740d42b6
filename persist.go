package statecraft

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SnapshotStore saves and loads snapshots outside the runtime. The engine
// itself never persists anything; stores exist so callers can park a
// snapshot and feed it back through Instance.Restore later.
type SnapshotStore[C any] interface {
	Save(name string, snap Snapshot[C]) error
	Load(name string) (Snapshot[C], error)
}

// JSONSnapshotStore is a file-based SnapshotStore using JSON, one file per
// snapshot name.
type JSONSnapshotStore[C any] struct {
	dir string
}

// NewJSONSnapshotStore creates a JSONSnapshotStore, ensuring the directory
// exists.
func NewJSONSnapshotStore[C any](dir string) (*JSONSnapshotStore[C], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &JSONSnapshotStore[C]{dir: dir}, nil
}

// Save writes the snapshot to <dir>/<name>.json
func (s *JSONSnapshotStore[C]) Save(name string, snap Snapshot[C]) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	fn := filepath.Join(s.dir, name+".json")
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", fn, err)
	}
	return nil
}

// Load reads the snapshot stored under the given name
func (s *JSONSnapshotStore[C]) Load(name string) (Snapshot[C], error) {
	var snap Snapshot[C]
	fn := filepath.Join(s.dir, name+".json")
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, fmt.Errorf("snapshot %q: %w", name, os.ErrNotExist)
		}
		return snap, fmt.Errorf("read %s: %w", fn, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("json unmarshal: %w", err)
	}
	return snap, nil
}

// YAMLSnapshotStore is a file-based SnapshotStore using YAML, one file per
// snapshot name.
type YAMLSnapshotStore[C any] struct {
	dir string
}

// NewYAMLSnapshotStore creates a YAMLSnapshotStore, ensuring the directory
// exists.
func NewYAMLSnapshotStore[C any](dir string) (*YAMLSnapshotStore[C], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &YAMLSnapshotStore[C]{dir: dir}, nil
}

// Save writes the snapshot to <dir>/<name>.yaml
func (s *YAMLSnapshotStore[C]) Save(name string, snap Snapshot[C]) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	fn := filepath.Join(s.dir, name+".yaml")
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", fn, err)
	}
	return nil
}

// Load reads the snapshot stored under the given name
func (s *YAMLSnapshotStore[C]) Load(name string) (Snapshot[C], error) {
	var snap Snapshot[C]
	fn := filepath.Join(s.dir, name+".yaml")
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, fmt.Errorf("snapshot %q: %w", name, os.ErrNotExist)
		}
		return snap, fmt.Errorf("read %s: %w", fn, err)
	}
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return snap, nil
}
