package bundler

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	manifestFileName = "manifest.yaml"
	archiveFileName  = "config-history.tar.zst"
	defaultPresign   = 15 * time.Minute
)

// Build exports one device's state directory (live artifacts plus snapshot
// history) as a signed bundle: a deterministic tar.zst archive and a YAML
// manifest next to it. Two builds over identical state and clock produce
// byte-identical archives.
func Build(ctx context.Context, req BuildRequest) (*Manifest, error) {
	if req.Device == "" {
		return nil, errors.New("device is required")
	}
	if req.StateDir == "" {
		return nil, errors.New("state directory is required")
	}
	if req.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if req.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if req.Now == nil {
		req.Now = time.Now
	}
	if req.Stdout == nil {
		req.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deviceDir := filepath.Join(req.StateDir, req.Device)
	info, err := os.Stat(deviceDir)
	if err != nil {
		return nil, fmt.Errorf("stat device state: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("device state %q is not a directory", deviceDir)
	}

	entries, err := collectState(ctx, deviceDir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("device %q has no state to bundle", req.Device)
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	archivePath := filepath.Join(req.OutputDir, archiveFileName)
	archive, err := writeArchive(archivePath, deviceDir, entries)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Version:          "1",
		Device:           req.Device,
		CreatedAt:        req.Now().UTC().Truncate(time.Second),
		Signer:           req.Signer.Recipient(),
		SigningPublicKey: req.Signer.PublicKeyBase64(),
		Archive:          archive,
		Files:            entries,
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	sig, err := req.Signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = sig

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, manifestFileName), manifestBytes, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	fmt.Fprintf(req.Stdout, "wrote bundle %s (%d files)\n", req.OutputDir, len(entries))
	return manifest, nil
}

// collectState gathers every regular file under the device directory with its
// digest, sorted by path so the archive layout is stable.
func collectState(ctx context.Context, root string) ([]ManifestFile, error) {
	var files []ManifestFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path for %q: %w", p, err)
		}
		rel = filepath.ToSlash(rel)

		file, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open %q: %w", p, err)
		}
		hash := sha256.New()
		size, err := io.Copy(hash, file)
		file.Close()
		if err != nil {
			return fmt.Errorf("hash %q: %w", p, err)
		}

		files = append(files, ManifestFile{
			Path:   rel,
			Size:   size,
			SHA256: hex.EncodeToString(hash.Sum(nil)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// writeArchive streams the entries into a tar.zst file and returns its
// manifest record. Headers carry fixed modes and a zero mtime so the bytes
// depend only on the content.
func writeArchive(archivePath, root string, entries []ManifestFile) (ManifestFile, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return ManifestFile{}, fmt.Errorf("create archive: %w", err)
	}

	hash := sha256.New()
	encoder, err := zstd.NewWriter(io.MultiWriter(out, hash), zstd.WithEncoderConcurrency(1))
	if err != nil {
		out.Close()
		return ManifestFile{}, fmt.Errorf("zstd writer: %w", err)
	}

	tw := tar.NewWriter(encoder)
	for _, entry := range entries {
		header := &tar.Header{
			Name:     entry.Path,
			Mode:     0o644,
			Size:     entry.Size,
			ModTime:  time.Unix(0, 0).UTC(),
			Typeflag: tar.TypeReg,
			Format:   tar.FormatUSTAR,
		}
		if err := tw.WriteHeader(header); err != nil {
			out.Close()
			return ManifestFile{}, fmt.Errorf("write header for %q: %w", entry.Path, err)
		}
		file, err := os.Open(filepath.Join(root, filepath.FromSlash(entry.Path)))
		if err != nil {
			out.Close()
			return ManifestFile{}, fmt.Errorf("open %q: %w", entry.Path, err)
		}
		_, err = io.Copy(tw, file)
		file.Close()
		if err != nil {
			out.Close()
			return ManifestFile{}, fmt.Errorf("copy %q: %w", entry.Path, err)
		}
	}
	if err := tw.Close(); err != nil {
		out.Close()
		return ManifestFile{}, fmt.Errorf("close tar: %w", err)
	}
	if err := encoder.Close(); err != nil {
		out.Close()
		return ManifestFile{}, fmt.Errorf("close zstd: %w", err)
	}
	if err := out.Close(); err != nil {
		return ManifestFile{}, fmt.Errorf("close archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return ManifestFile{}, fmt.Errorf("stat archive: %w", err)
	}

	return ManifestFile{
		Path:   archiveFileName,
		Size:   info.Size(),
		SHA256: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Verify checks a bundle directory: manifest signature, archive digest, and
// every entry inside the archive against its manifest record.
func Verify(ctx context.Context, dir string, signer *Signer) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if signer == nil {
		signer = &Signer{}
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != "1" {
		return nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}
	if manifest.Signature == "" {
		return nil, errors.New("manifest missing signature")
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return nil, fmt.Errorf("verify manifest signature: %w", err)
	}

	archivePath := filepath.Join(dir, manifest.Archive.Path)
	if err := checkFileDigest(archivePath, manifest.Archive); err != nil {
		return nil, err
	}

	if err := checkArchiveEntries(ctx, archivePath, manifest.Files); err != nil {
		return nil, err
	}

	return &manifest, nil
}

func checkFileDigest(path string, want ManifestFile) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", want.Path, err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return fmt.Errorf("hash %q: %w", want.Path, err)
	}
	if size != want.Size {
		return fmt.Errorf("size mismatch for %q: expected %d got %d", want.Path, want.Size, size)
	}
	if computed := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(computed, want.SHA256) {
		return fmt.Errorf("sha256 mismatch for %q", want.Path)
	}
	return nil
}

func checkArchiveEntries(ctx context.Context, archivePath string, want []ManifestFile) error {
	expected := make(map[string]ManifestFile, len(want))
	for _, f := range want {
		expected[f.Path] = f
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	tr := tar.NewReader(decoder)
	seen := make(map[string]bool, len(want))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(header.Name)
		record, ok := expected[name]
		if !ok {
			return fmt.Errorf("archive carries unexpected entry %q", name)
		}

		hash := sha256.New()
		size, err := io.Copy(hash, tr)
		if err != nil {
			return fmt.Errorf("hash entry %q: %w", name, err)
		}
		if size != record.Size {
			return fmt.Errorf("size mismatch for %q: expected %d got %d", name, record.Size, size)
		}
		if computed := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(computed, record.SHA256) {
			return fmt.Errorf("sha256 mismatch for %q", name)
		}
		seen[name] = true
	}

	for _, f := range want {
		if !seen[f.Path] {
			return fmt.Errorf("archive missing entry %q", f.Path)
		}
	}
	return nil
}

// Publish uploads a built bundle to S3 and returns a presigned download URL
// for the archive.
func Publish(ctx context.Context, req PublishRequest) (string, error) {
	if req.Dir == "" {
		return "", errors.New("bundle directory is required")
	}
	if req.Bucket == "" {
		return "", errors.New("bucket is required")
	}
	if req.S3 == nil {
		return "", errors.New("s3 client is required")
	}
	if req.PresignTTL <= 0 {
		req.PresignTTL = defaultPresign
	}
	if req.Stdout == nil {
		req.Stdout = os.Stdout
	}

	manifestBytes, err := os.ReadFile(filepath.Join(req.Dir, manifestFileName))
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return "", fmt.Errorf("unmarshal manifest: %w", err)
	}

	manifestKey := path.Join(req.KeyPrefix, manifestFileName)
	manifestSHA := sha256.Sum256(manifestBytes)
	err = req.S3.PutObject(ctx, req.Bucket, manifestKey,
		strings.NewReader(string(manifestBytes)), int64(len(manifestBytes)),
		hex.EncodeToString(manifestSHA[:]))
	if err != nil {
		return "", fmt.Errorf("upload manifest: %w", err)
	}

	archivePath := filepath.Join(req.Dir, manifest.Archive.Path)
	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	archiveKey := path.Join(req.KeyPrefix, manifest.Archive.Path)
	if err := req.S3.PutObject(ctx, req.Bucket, archiveKey, archive, manifest.Archive.Size, manifest.Archive.SHA256); err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}

	url, err := req.S3.PresignGet(ctx, req.Bucket, archiveKey, req.PresignTTL)
	if err != nil {
		return "", fmt.Errorf("presign archive: %w", err)
	}

	fmt.Fprintf(req.Stdout, "uploaded %s and %s to s3://%s/%s\n",
		manifest.Archive.Path, manifestFileName, req.Bucket, req.KeyPrefix)
	return url, nil
}
