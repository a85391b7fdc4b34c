package ledger

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"dashmaster/services/packs"
)

func TestMergeBirthDocNeverErases(t *testing.T) {
	doc := mergeBirthDoc(nil, "esp-000", map[packs.Kind]string{
		packs.KindLayout: "aaa",
		packs.KindRules:  "bbb",
		packs.KindTheme:  "ttt",
	})

	// Second accepted pack omits theme and changes layout.
	doc = mergeBirthDoc(doc, "esp-000", map[packs.Kind]string{
		packs.KindLayout: "aaa2",
		packs.KindRules:  "bbb",
	})

	want := map[string]any{
		"layout": "aaa2",
		"rules":  "bbb",
		"theme":  "ttt",
	}
	configs, ok := doc["configs"].(map[string]any)
	if !ok {
		t.Fatalf("configs missing from doc: %v", doc)
	}
	if diff := cmp.Diff(want, configs); diff != "" {
		t.Fatalf("configs mismatch (-want +got):\n%s", diff)
	}
	if doc["device_id"] != "esp-000" {
		t.Fatalf("device_id = %v", doc["device_id"])
	}
}

func TestMergeBirthDocAfterJSONBRoundTrip(t *testing.T) {
	// Values coming back from jsonb decode as map[string]any; merging into
	// that shape must keep prior kinds.
	doc := datatypes.JSONMap{
		"device_id": "esp-000",
		"configs":   map[string]any{"layout": "old"},
	}
	doc = mergeBirthDoc(doc, "esp-000", map[packs.Kind]string{packs.KindRules: "new"})
	configs := doc["configs"].(map[string]any)
	if configs["layout"] != "old" || configs["rules"] != "new" {
		t.Fatalf("merge lost data: %v", configs)
	}
}

func TestDocDigestStableAndKeyOrderIndependent(t *testing.T) {
	a := datatypes.JSONMap{
		"device_id": "esp-000",
		"configs":   map[string]any{"layout": "x", "rules": "y"},
	}
	b := datatypes.JSONMap{
		"configs":   map[string]any{"rules": "y", "layout": "x"},
		"device_id": "esp-000",
	}

	sa, err := docDigest(a)
	if err != nil {
		t.Fatalf("docDigest: %v", err)
	}
	sb, err := docDigest(b)
	if err != nil {
		t.Fatalf("docDigest: %v", err)
	}
	if sa != sb {
		t.Fatalf("canonical digest differs across key order: %s vs %s", sa, sb)
	}

	c := datatypes.JSONMap{
		"device_id": "esp-000",
		"configs":   map[string]any{"layout": "x", "rules": "z"},
	}
	sc, err := docDigest(c)
	if err != nil {
		t.Fatalf("docDigest: %v", err)
	}
	if sc == sa {
		t.Fatalf("different docs share a digest")
	}
}

func TestHistoryFromDigests(t *testing.T) {
	deviceID := uuid.New()
	row := historyFromDigests(deviceID, map[packs.Kind]string{
		packs.KindLayout: "lll",
		packs.KindRules:  "rrr",
	}, "tech-7", "")

	if row.DeviceID != deviceID {
		t.Fatalf("device id mismatch")
	}
	if row.LayoutSHA == nil || *row.LayoutSHA != "lll" {
		t.Fatalf("layout sha = %v", row.LayoutSHA)
	}
	if row.RulesSHA == nil || *row.RulesSHA != "rrr" {
		t.Fatalf("rules sha = %v", row.RulesSHA)
	}
	for name, ptr := range map[string]*string{
		"schema":      row.SchemaSHA,
		"calibration": row.CalibrationSHA,
		"board_map":   row.BoardMapSHA,
		"theme":       row.ThemeSHA,
	} {
		if ptr != nil {
			t.Fatalf("%s sha must be nil for an absent kind", name)
		}
	}
	if row.Actor == nil || *row.Actor != "tech-7" {
		t.Fatalf("actor = %v", row.Actor)
	}
	if row.Note != nil {
		t.Fatalf("empty note must map to NULL")
	}

	entry := row.toAPI()
	if len(entry.Digests) != 6 {
		t.Fatalf("entry digest keys = %d, want all six kinds", len(entry.Digests))
	}
	if entry.Digests["layout"] == nil || *entry.Digests["layout"] != "lll" {
		t.Fatalf("entry layout digest = %v", entry.Digests["layout"])
	}
	if entry.Digests["theme"] != nil {
		t.Fatalf("entry theme digest must be nil")
	}
}
