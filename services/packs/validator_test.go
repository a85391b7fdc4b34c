package packs

import (
	"errors"
	"strings"
	"testing"
)

var (
	validLayout = []byte(`{"version":"1.0","grid":{"columns":12,"rows":8},"widgets":[{"id":"rpm","type":"gauge","channel":"engine.rpm"}]}`)
	validRules  = []byte(`{"version":"1.0","actuators":[{"id":"fan","channel":"relay0","ttl_s":30,"cooldown_s":10}]}`)
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidateLayout(t *testing.T) {
	v := newTestValidator(t)

	if err := v.Validate(KindLayout, validLayout); err != nil {
		t.Fatalf("valid layout rejected: %v", err)
	}

	var verr *ValidationError
	err := v.Validate(KindLayout, []byte(`{"version":"1.0"}`))
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Kind != KindLayout {
		t.Fatalf("error kind = %s", verr.Kind)
	}

	var eerr *EncodingError
	if err := v.Validate(KindLayout, []byte(`{not json`)); !errors.As(err, &eerr) {
		t.Fatalf("expected EncodingError for malformed JSON, got %v", err)
	}
	if err := v.Validate(KindLayout, nil); !errors.As(err, &eerr) {
		t.Fatalf("expected EncodingError for empty body, got %v", err)
	}
}

func TestValidateRulesActuatorFields(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name     string
		body     string
		wantPath string
		wantWord string
	}{
		{
			name: "ok",
			body: `{"version":"1.0","actuators":[{"id":"fan","ttl_s":30,"cooldown_s":10}]}`,
		},
		{
			name: "empty actuators ok",
			body: `{"version":"1.0","actuators":[]}`,
		},
		{
			name:     "missing ttl_s",
			body:     `{"version":"1.0","actuators":[{"id":"fan","cooldown_s":10}]}`,
			wantPath: "/actuators/0",
			wantWord: "ttl_s",
		},
		{
			name:     "missing cooldown_s on second entry",
			body:     `{"version":"1.0","actuators":[{"id":"a","ttl_s":1,"cooldown_s":1},{"id":"b","ttl_s":5}]}`,
			wantPath: "/actuators/1",
			wantWord: "cooldown_s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(KindRules, []byte(tt.body))
			if tt.wantPath == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Path != tt.wantPath {
				t.Fatalf("path = %q, want %q", verr.Path, tt.wantPath)
			}
			if !strings.Contains(verr.Reason, tt.wantWord) {
				t.Fatalf("reason %q does not name %q", verr.Reason, tt.wantWord)
			}
		})
	}
}

func TestValidateTheme(t *testing.T) {
	v := newTestValidator(t)

	if err := v.Validate(KindTheme, []byte("body { color: #0f0; }")); err != nil {
		t.Fatalf("valid theme rejected: %v", err)
	}
	if err := v.Validate(KindTheme, nil); err != nil {
		t.Fatalf("empty theme rejected: %v", err)
	}

	var eerr *EncodingError
	if err := v.Validate(KindTheme, []byte{0xff, 0xfe, 0x00, 0x80}); !errors.As(err, &eerr) {
		t.Fatalf("expected EncodingError for non-UTF-8 theme, got %v", err)
	}
	if eerr.Kind != KindTheme {
		t.Fatalf("error kind = %s", eerr.Kind)
	}
}

func TestValidatePack(t *testing.T) {
	v := newTestValidator(t)

	ok := Pack{
		KindLayout: NewArtifact(KindLayout, validLayout),
		KindRules:  NewArtifact(KindRules, validRules),
		KindTheme:  NewArtifact(KindTheme, []byte("body{}")),
	}
	if err := v.ValidatePack(ok); err != nil {
		t.Fatalf("valid pack rejected: %v", err)
	}

	var verr *ValidationError
	missing := Pack{KindLayout: NewArtifact(KindLayout, validLayout)}
	if err := v.ValidatePack(missing); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for missing rules, got %v", err)
	}
	if verr.Kind != KindRules {
		t.Fatalf("missing kind = %s, want rules", verr.Kind)
	}
}

func TestContracts(t *testing.T) {
	v := newTestValidator(t)

	names := v.ContractNames()
	if len(names) != 5 {
		t.Fatalf("contract count = %d, want 5", len(names))
	}
	for _, name := range []string{"layout", "rules", "schema", "calibration", "board_map"} {
		if _, ok := v.Contract(name); !ok {
			t.Fatalf("contract %s missing", name)
		}
	}
	if _, ok := v.Contract("theme"); ok {
		t.Fatalf("theme must not carry a contract")
	}
}
