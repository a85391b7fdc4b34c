package packs

import "fmt"

// Kind identifies one configuration artifact slot on a dashboard device.
type Kind string

const (
	KindLayout      Kind = "layout"
	KindRules       Kind = "rules"
	KindSchema      Kind = "schema"
	KindCalibration Kind = "calibration"
	KindBoardMap    Kind = "board_map"
	KindTheme       Kind = "theme"
)

type kindSpec struct {
	filename    string
	devicePath  string
	contentType string
	mandatory   bool
}

var kindTable = map[Kind]kindSpec{
	KindLayout:      {"layout.json", "/api/layout", "application/json", true},
	KindRules:       {"rules.json", "/api/rules", "application/json", true},
	KindSchema:      {"schema.json", "/api/schema", "application/json", false},
	KindCalibration: {"calibration.json", "/api/calibration", "application/json", false},
	KindBoardMap:    {"board_map.json", "/api/board_map", "application/json", false},
	KindTheme:       {"theme.css", "/api/theme", "text/css", false},
}

// kindOrder fixes the push and listing order, mandatory kinds first.
var kindOrder = []Kind{KindLayout, KindRules, KindSchema, KindCalibration, KindBoardMap, KindTheme}

// Kinds returns every artifact kind in delivery order.
func Kinds() []Kind {
	out := make([]Kind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// ParseKind validates a kind name received over the wire.
func ParseKind(name string) (Kind, error) {
	k := Kind(name)
	if _, ok := kindTable[k]; !ok {
		return "", fmt.Errorf("unknown artifact kind %q", name)
	}
	return k, nil
}

// KindForFilename maps an upload part name such as "rules.json" back to its kind.
func KindForFilename(name string) (Kind, bool) {
	for k, spec := range kindTable {
		if spec.filename == name {
			return k, true
		}
	}
	return "", false
}

func (k Kind) String() string { return string(k) }

// Filename returns the on-disk file name for the kind.
func (k Kind) Filename() string { return kindTable[k].filename }

// DevicePath returns the device HTTP path the artifact is POSTed to.
func (k Kind) DevicePath() string { return kindTable[k].devicePath }

// ContentType returns the MIME type used when pushing the artifact.
func (k Kind) ContentType() string { return kindTable[k].contentType }

// Mandatory reports whether every uploaded pack must include the kind.
func (k Kind) Mandatory() bool { return kindTable[k].mandatory }

// JSONKind reports whether the artifact body is a JSON document.
func (k Kind) JSONKind() bool { return kindTable[k].contentType == "application/json" }
