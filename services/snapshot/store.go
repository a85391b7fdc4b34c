// Package snapshot keeps the live configuration files for each device and an
// append-only history of pre-overwrite snapshots on the local filesystem.
//
// Layout under the store root:
//
//	<root>/<device>/                  live artifact files
//	<root>/<device>/history/<label>/  one snapshot per label
//
// Labels are UTC timestamps with nanosecond precision, so plain string sort
// is chronological sort. Snapshots are never modified or deleted here.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dashmaster/services/packs"
)

const (
	historyDir  = "history"
	labelLayout = "20060102T150405.000000000"
)

var (
	// ErrNotFound is returned for a label that does not exist.
	ErrNotFound = errors.New("snapshot not found")
	// ErrNoSnapshots is returned when a device has no history at all.
	ErrNoSnapshots = errors.New("no snapshots for device")
	// ErrNothingToSnapshot is returned by Capture when none of the requested
	// files exist yet, i.e. on a device's first upload.
	ErrNothingToSnapshot = errors.New("nothing to snapshot")
)

// Info describes one snapshot: its label, when it was taken, and the digest
// of every file it contains.
type Info struct {
	Label     string            `json:"label"`
	CreatedAt time.Time         `json:"created_at"`
	Files     map[string]string `json:"files"`
}

// Store is the filesystem-backed snapshot store. Safe for concurrent use
// across devices; callers serialize mutations per device.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore roots a store at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("snapshot: empty root dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create root: %w", err)
	}
	return &Store{root: dir, now: time.Now}, nil
}

func (s *Store) deviceDir(device string) (string, error) {
	if device == "" || strings.ContainsAny(device, `/\`) || device == "." || device == ".." {
		return "", fmt.Errorf("snapshot: invalid device name %q", device)
	}
	return filepath.Join(s.root, device), nil
}

func validLabel(label string) bool {
	return label != "" && !strings.ContainsAny(label, `/\`) && label != "." && label != ".."
}

// WriteLive writes the given files into the device's live directory. Kinds
// absent from files are left untouched.
func (s *Store) WriteLive(device string, files map[string][]byte) error {
	dir, err := s.deviceDir(device)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create device dir: %w", err)
	}
	for name, data := range files {
		if _, ok := packs.KindForFilename(name); !ok {
			return fmt.Errorf("snapshot: %q is not an artifact file", name)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("snapshot: write %s: %w", name, err)
		}
	}
	return nil
}

// ReadLive returns the device's current live artifact files. A device that
// never uploaded yields an empty map.
func (s *Store) ReadLive(device string) (map[string][]byte, error) {
	dir, err := s.deviceDir(device)
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte)
	for _, kind := range packs.Kinds() {
		data, err := os.ReadFile(filepath.Join(dir, kind.Filename()))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: read %s: %w", kind.Filename(), err)
		}
		files[kind.Filename()] = data
	}
	return files, nil
}

// Capture copies every named file currently present in the live directory
// into a fresh history/<label> directory and returns the label. When none of
// the names exist it returns ErrNothingToSnapshot and creates nothing.
func (s *Store) Capture(device string, filenames []string) (string, error) {
	dir, err := s.deviceDir(device)
	if err != nil {
		return "", err
	}
	present := make(map[string][]byte)
	for _, name := range filenames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("snapshot: read %s: %w", name, err)
		}
		present[name] = data
	}
	if len(present) == 0 {
		return "", ErrNothingToSnapshot
	}

	label := s.now().UTC().Format(labelLayout)
	snapDir := filepath.Join(dir, historyDir, label)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create %s: %w", label, err)
	}
	for name, data := range present {
		if err := os.WriteFile(filepath.Join(snapDir, name), data, 0o644); err != nil {
			return "", fmt.Errorf("snapshot: write %s/%s: %w", label, name, err)
		}
	}
	return label, nil
}

// List returns the device's snapshots oldest first. A device with no history
// yields an empty slice, never an error.
func (s *Store) List(device string) ([]Info, error) {
	dir, err := s.deviceDir(device)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, historyDir))
	if errors.Is(err, os.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: list history: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label := entry.Name()
		createdAt, err := time.Parse(labelLayout, label)
		if err != nil {
			continue
		}
		files, err := s.snapshotFiles(device, label)
		if err != nil {
			return nil, err
		}
		digests := make(map[string]string, len(files))
		for name, data := range files {
			digests[name] = packs.SHA256Hex(data)
		}
		infos = append(infos, Info{Label: label, CreatedAt: createdAt, Files: digests})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Label < infos[j].Label })
	return infos, nil
}

// Load returns the files of one snapshot. An empty label means the latest.
func (s *Store) Load(device, label string) (map[string][]byte, string, error) {
	if label == "" {
		labels, err := s.labels(device)
		if err != nil {
			return nil, "", err
		}
		if len(labels) == 0 {
			return nil, "", ErrNoSnapshots
		}
		label = labels[len(labels)-1]
	} else if !validLabel(label) {
		return nil, "", ErrNotFound
	}
	files, err := s.snapshotFiles(device, label)
	if err != nil {
		return nil, "", err
	}
	return files, label, nil
}

// Restore makes the live directory match files exactly: tracked artifact
// kinds absent from files are removed, then every given file is written.
// Anything that is not an artifact file is left alone.
func (s *Store) Restore(device string, files map[string][]byte) error {
	dir, err := s.deviceDir(device)
	if err != nil {
		return err
	}
	for _, kind := range packs.Kinds() {
		name := kind.Filename()
		if _, ok := files[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("snapshot: remove %s: %w", name, err)
		}
	}
	return s.WriteLive(device, files)
}

func (s *Store) labels(device string) ([]string, error) {
	dir, err := s.deviceDir(device)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, historyDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: list history: %w", err)
	}
	labels := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := time.Parse(labelLayout, entry.Name()); err != nil {
			continue
		}
		labels = append(labels, entry.Name())
	}
	sort.Strings(labels)
	return labels, nil
}

func (s *Store) snapshotFiles(device, label string) (map[string][]byte, error) {
	dir, err := s.deviceDir(device)
	if err != nil {
		return nil, err
	}
	snapDir := filepath.Join(dir, historyDir, label)
	entries, err := os.ReadDir(snapDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", label, err)
	}
	files := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(snapDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("snapshot: read %s/%s: %w", label, entry.Name(), err)
		}
		files[entry.Name()] = data
	}
	return files, nil
}
