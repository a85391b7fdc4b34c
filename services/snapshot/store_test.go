package snapshot

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"dashmaster/services/packs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return st
}

func allFilenames() []string {
	var names []string
	for _, k := range packs.Kinds() {
		names = append(names, k.Filename())
	}
	return names
}

func TestCaptureFirstUploadHasNothing(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Capture("esp-000", allFilenames())
	if !errors.Is(err, ErrNothingToSnapshot) {
		t.Fatalf("expected ErrNothingToSnapshot, got %v", err)
	}

	infos, err := st.List("esp-000")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected empty history, got %d snapshots", len(infos))
	}
}

func TestCaptureAndLoadRoundTrip(t *testing.T) {
	st := newTestStore(t)

	live := map[string][]byte{
		"layout.json": []byte(`{"version":"1.0","widgets":[]}`),
		"rules.json":  []byte(`{"version":"1.0","actuators":[]}`),
		"theme.css":   []byte("body { color: red; }"),
	}
	if err := st.WriteLive("esp-000", live); err != nil {
		t.Fatalf("WriteLive: %v", err)
	}

	label, err := st.Capture("esp-000", allFilenames())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	files, resolved, err := st.Load("esp-000", label)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != label {
		t.Fatalf("resolved label = %s, want %s", resolved, label)
	}
	if diff := cmp.Diff(live, files); diff != "" {
		t.Fatalf("snapshot content mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadLatestAndMissing(t *testing.T) {
	st := newTestStore(t)

	if _, _, err := st.Load("esp-000", ""); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("expected ErrNoSnapshots, got %v", err)
	}

	if err := st.WriteLive("esp-000", map[string][]byte{"layout.json": []byte("v1")}); err != nil {
		t.Fatalf("WriteLive: %v", err)
	}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }
	if _, err := st.Capture("esp-000", allFilenames()); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	if err := st.WriteLive("esp-000", map[string][]byte{"layout.json": []byte("v2")}); err != nil {
		t.Fatalf("WriteLive: %v", err)
	}
	st.now = func() time.Time { return base.Add(time.Second) }
	second, err := st.Capture("esp-000", allFilenames())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	files, resolved, err := st.Load("esp-000", "")
	if err != nil {
		t.Fatalf("Load latest: %v", err)
	}
	if resolved != second {
		t.Fatalf("latest = %s, want %s", resolved, second)
	}
	if string(files["layout.json"]) != "v2" {
		t.Fatalf("latest content = %q", files["layout.json"])
	}

	if _, _, err := st.Load("esp-000", "20990101T000000.000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := st.Load("esp-000", "../escape"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for traversal label, got %v", err)
	}
}

func TestListOrderedWithDigests(t *testing.T) {
	st := newTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		content := []byte{byte('a' + i)}
		if err := st.WriteLive("esp-000", map[string][]byte{"layout.json": content}); err != nil {
			t.Fatalf("WriteLive: %v", err)
		}
		step := i
		st.now = func() time.Time { return base.Add(time.Duration(step) * time.Second) }
		if _, err := st.Capture("esp-000", allFilenames()); err != nil {
			t.Fatalf("Capture %d: %v", i, err)
		}
	}

	infos, err := st.List("esp-000")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("snapshot count = %d, want 3", len(infos))
	}
	if !sort.SliceIsSorted(infos, func(i, j int) bool { return infos[i].Label < infos[j].Label }) {
		t.Fatalf("snapshots not sorted ascending")
	}
	for i, info := range infos {
		want := packs.SHA256Hex([]byte{byte('a' + i)})
		if info.Files["layout.json"] != want {
			t.Fatalf("snapshot %d digest = %s, want %s", i, info.Files["layout.json"], want)
		}
		if info.CreatedAt.IsZero() {
			t.Fatalf("snapshot %d has zero CreatedAt", i)
		}
	}
}

func TestRestoreRemovesAbsentKinds(t *testing.T) {
	st := newTestStore(t)

	if err := st.WriteLive("esp-000", map[string][]byte{
		"layout.json": []byte("new-layout"),
		"rules.json":  []byte("new-rules"),
		"theme.css":   []byte("new-theme"),
	}); err != nil {
		t.Fatalf("WriteLive: %v", err)
	}

	if err := st.Restore("esp-000", map[string][]byte{
		"layout.json": []byte("old-layout"),
		"rules.json":  []byte("old-rules"),
	}); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	live, err := st.ReadLive("esp-000")
	if err != nil {
		t.Fatalf("ReadLive: %v", err)
	}
	want := map[string][]byte{
		"layout.json": []byte("old-layout"),
		"rules.json":  []byte("old-rules"),
	}
	if diff := cmp.Diff(want, live); diff != "" {
		t.Fatalf("live state mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteLiveRejectsStrayFiles(t *testing.T) {
	st := newTestStore(t)
	err := st.WriteLive("esp-000", map[string][]byte{"notes.txt": []byte("x")})
	if err == nil {
		t.Fatalf("expected error for non-artifact file")
	}
}

func TestLabelsSortChronologically(t *testing.T) {
	early := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC).Format(labelLayout)
	late := time.Date(2026, 11, 22, 13, 14, 15, 999999999, time.UTC).Format(labelLayout)
	if !(early < late) {
		t.Fatalf("labels do not sort chronologically: %s >= %s", early, late)
	}
}
