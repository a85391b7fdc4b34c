package packs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSHA256HexExactBytes(t *testing.T) {
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := SHA256Hex([]byte("hello")); got != want {
		t.Fatalf("SHA256Hex = %s, want %s", got, want)
	}

	// Semantically equal JSON with different bytes must not collide.
	a := SHA256Hex([]byte(`{"a":1,"b":2}`))
	b := SHA256Hex([]byte(`{"b":2,"a":1}`))
	if a == b {
		t.Fatalf("digests of different byte sequences collided")
	}
	if a != SHA256Hex([]byte(`{"a":1,"b":2}`)) {
		t.Fatalf("digest not stable for identical bytes")
	}
}

func TestNewArtifact(t *testing.T) {
	art := NewArtifact(KindLayout, []byte(`{}`))
	if art.Kind != KindLayout {
		t.Fatalf("kind = %s", art.Kind)
	}
	if art.SHA256 != SHA256Hex([]byte(`{}`)) {
		t.Fatalf("digest mismatch")
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		previous map[Kind]string
		next     map[Kind]string
		want     map[Kind]bool
	}{
		{
			name:     "first upload marks everything changed",
			previous: map[Kind]string{},
			next:     map[Kind]string{KindLayout: "aa", KindRules: "bb"},
			want:     map[Kind]bool{KindLayout: true, KindRules: true},
		},
		{
			name:     "identical pack is all false",
			previous: map[Kind]string{KindLayout: "aa", KindRules: "bb"},
			next:     map[Kind]string{KindLayout: "aa", KindRules: "bb"},
			want:     map[Kind]bool{KindLayout: false, KindRules: false},
		},
		{
			name:     "single kind changed",
			previous: map[Kind]string{KindLayout: "aa", KindRules: "bb"},
			next:     map[Kind]string{KindLayout: "aa", KindRules: "cc"},
			want:     map[Kind]bool{KindLayout: false, KindRules: true},
		},
		{
			name:     "kind absent from next is not reported",
			previous: map[Kind]string{KindLayout: "aa", KindTheme: "dd"},
			next:     map[Kind]string{KindLayout: "aa"},
			want:     map[Kind]bool{KindLayout: false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.previous, tt.next)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Diff mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPackMissingMandatory(t *testing.T) {
	p := Pack{KindTheme: NewArtifact(KindTheme, []byte("body{}"))}
	missing := p.MissingMandatory()
	if diff := cmp.Diff([]Kind{KindLayout, KindRules}, missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}

	p[KindLayout] = NewArtifact(KindLayout, []byte(`{}`))
	p[KindRules] = NewArtifact(KindRules, []byte(`{}`))
	if got := p.MissingMandatory(); len(got) != 0 {
		t.Fatalf("expected no missing kinds, got %v", got)
	}
}

func TestPackKindsOrdered(t *testing.T) {
	p := Pack{
		KindTheme:  NewArtifact(KindTheme, nil),
		KindLayout: NewArtifact(KindLayout, nil),
		KindRules:  NewArtifact(KindRules, nil),
	}
	want := []Kind{KindLayout, KindRules, KindTheme}
	if diff := cmp.Diff(want, p.Kinds()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestKindForFilename(t *testing.T) {
	kind, ok := KindForFilename("board_map.json")
	if !ok || kind != KindBoardMap {
		t.Fatalf("KindForFilename(board_map.json) = %v, %v", kind, ok)
	}
	if _, ok := KindForFilename("notes.txt"); ok {
		t.Fatalf("unexpected kind for notes.txt")
	}
}
