package packs

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Artifact is one configuration document exactly as received. Data is never
// re-encoded; the digest covers the raw bytes byte for byte.
type Artifact struct {
	Kind   Kind
	Data   []byte
	SHA256 string
}

// NewArtifact wraps raw bytes and computes their digest.
func NewArtifact(kind Kind, data []byte) Artifact {
	return Artifact{Kind: kind, Data: data, SHA256: SHA256Hex(data)}
}

// SHA256Hex returns the hex-encoded SHA-256 of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Pack is the set of artifacts carried by one upload or snapshot restore.
type Pack map[Kind]Artifact

// Digests returns the per-kind digests of the pack.
func (p Pack) Digests() map[Kind]string {
	out := make(map[Kind]string, len(p))
	for k, a := range p {
		out[k] = a.SHA256
	}
	return out
}

// MissingMandatory lists mandatory kinds absent from the pack, sorted.
func (p Pack) MissingMandatory() []Kind {
	var missing []Kind
	for _, k := range kindOrder {
		if !k.Mandatory() {
			continue
		}
		if _, ok := p[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// Kinds returns the pack's kinds in delivery order.
func (p Pack) Kinds() []Kind {
	var out []Kind
	for _, k := range kindOrder {
		if _, ok := p[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Diff reports, for every kind in next, whether its digest differs from the
// previous state. A kind with no previous digest counts as changed.
func Diff(previous, next map[Kind]string) map[Kind]bool {
	out := make(map[Kind]bool, len(next))
	for k, sum := range next {
		prev, ok := previous[k]
		out[k] = !ok || prev != sum
	}
	return out
}
