package bundler

import (
	"io"
	"time"

	gos3 "dashmaster/pkg/s3"
)

// BuildRequest configures one bundle export.
type BuildRequest struct {
	// Device is the hostname whose state directory gets bundled.
	Device string
	// StateDir is the snapshot store root holding <device>/ subdirectories.
	StateDir string
	// OutputDir receives the archive and manifest. Created if absent.
	OutputDir string
	Signer    *Signer
	Now       func() time.Time
	Stdout    io.Writer
}

// PublishRequest configures the optional S3 handoff of a built bundle.
type PublishRequest struct {
	// Dir is a bundle directory produced by Build.
	Dir    string
	Bucket string
	// KeyPrefix namespaces the uploaded objects, e.g. "bundles/esp-000".
	KeyPrefix string
	S3        *gos3.Client
	// PresignTTL bounds the returned download link. Defaults to 15 minutes.
	PresignTTL time.Duration
	Stdout     io.Writer
}
