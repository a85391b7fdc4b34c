package bundler

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata written next to a bundle archive.
type Manifest struct {
	Version          string         `yaml:"version"`
	Device           string         `yaml:"device"`
	CreatedAt        time.Time      `yaml:"created_at"`
	Signer           string         `yaml:"signer,omitempty"`
	SigningPublicKey string         `yaml:"signing_public_key,omitempty"`
	Signature        string         `yaml:"signature,omitempty"`
	Archive          ManifestFile   `yaml:"archive"`
	Files            []ManifestFile `yaml:"files"`
}

// SigningBytes marshals the manifest without its signature for signing and
// verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// ManifestFile describes one file, either the archive itself or an entry
// inside it.
type ManifestFile struct {
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}
