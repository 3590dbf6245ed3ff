// Package intake handles safe extraction of untrusted manifest archives. Every
// uploaded or fetched artifact passes through here before anything else looks
// at it: the extension allow-list, the declared-uncompressed-size ceiling, the
// per-entry CRC check, the encrypted-entry rejection, and the path-traversal
// containment all run before a single manifest byte is trusted.
//
// The size ceiling is checked against the sizes declared in the archive's
// central directory before extraction begins, so a small hostile input that
// would inflate past the limit is rejected without any disk writes.
package intake

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
)

// DefaultMaxUncompressedSize bounds the total declared uncompressed size of
// an accepted archive (20 MB, matching the service default).
const DefaultMaxUncompressedSize = 20 * 1024 * 1024

// DefaultAllowedExtensions is the upload extension allow-list.
var DefaultAllowedExtensions = []string{".zip"}

// encryptedFlag is bit 0 of the zip general-purpose flag word; set when the
// entry's data is password protected.
const encryptedFlag = 0x1

// ValidateExtension checks filename against the allow-list, case-insensitive.
func ValidateExtension(filename string, allowed []string) error {
	if len(allowed) == 0 {
		allowed = DefaultAllowedExtensions
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return nil
		}
	}
	return errdefs.New(errdefs.KindUnsupportedFileType,
		"uploaded file extension %q is not any of %v", ext, allowed)
}

// ExtractFile opens the archive at path and extracts it into destDir. See
// Extract for the validation performed.
func ExtractFile(path, destDir string, maxUncompressed int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return Extract(f, info.Size(), destDir, maxUncompressed)
}

// Extract reads a zip archive from r and extracts every entry into destDir.
//
// Validation order:
//  1. archive parse failure            → CorruptArchive
//  2. declared size sum over the limit → ArchiveTooLarge (before extraction)
//  3. encrypted entry                  → EncryptedArchive
//  4. entry escaping destDir           → CorruptArchive (fail fast)
//  5. CRC mismatch while extracting    → CorruptArchive naming the entry
//
// It returns the sorted list of relative file paths written, which callers
// surface in responses as the audit trail of what the archive contained.
func Extract(r io.ReaderAt, size int64, destDir string, maxUncompressed int64) ([]string, error) {
	if maxUncompressed <= 0 {
		maxUncompressed = DefaultMaxUncompressedSize
	}

	archive, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindCorruptArchive, err, "not a valid zip archive: %v", err)
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		for _, f := range archive.File {
			slog.Debug("archive entry",
				"name", f.Name,
				"compressed_size", f.CompressedSize64,
				"uncompressed_size", f.UncompressedSize64)
		}
	}

	var declared int64
	for _, f := range archive.File {
		declared += int64(f.UncompressedSize64)
	}
	if declared > maxUncompressed {
		return nil, errdefs.New(errdefs.KindArchiveTooLarge,
			"uncompressed archive is larger than limit (%dB>%dB)", declared, maxUncompressed)
	}
	for _, f := range archive.File {
		if f.Flags&encryptedFlag != 0 {
			return nil, errdefs.New(errdefs.KindEncryptedArchive,
				"archive entry %q is encrypted; password-protected archives are not accepted", f.Name)
		}
	}

	var written []string
	for _, f := range archive.File {
		target, err := securePath(destDir, f.Name)
		if err != nil {
			return nil, err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", f.Name, err)
			}
			continue
		}

		if err := extractEntry(f, target, declared); err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(destDir, target)
		written = append(written, filepath.ToSlash(rel))
	}

	sort.Strings(written)
	return written, nil
}

// securePath resolves an archive entry name inside destDir, rejecting
// absolute names and any ".." segment that would land outside destDir.
func securePath(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) {
		return "", errdefs.New(errdefs.KindCorruptArchive,
			"archive entry %q has an absolute path", name)
	}
	target := filepath.Join(destDir, cleaned)
	base := filepath.Clean(destDir) + string(os.PathSeparator)
	if !strings.HasPrefix(target, base) {
		return "", errdefs.New(errdefs.KindCorruptArchive,
			"archive entry %q escapes the extraction directory", name)
	}
	return target, nil
}

func extractEntry(f *zip.File, target string, declared int64) error {
	rc, err := f.Open()
	if err != nil {
		return errdefs.Wrap(errdefs.KindCorruptArchive, err,
			"cannot read entry %q: %v", f.Name, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.Name, err)
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create file for %s: %w", f.Name, err)
	}
	defer out.Close()

	// Bound the copy by the declared total so an archive lying about entry
	// sizes cannot write past the pre-checked ceiling. The full read also
	// runs the CRC check, which surfaces as an error here.
	n, err := io.Copy(out, io.LimitReader(rc, declared+1))
	if err != nil {
		return errdefs.Wrap(errdefs.KindCorruptArchive, err,
			"CRC check failed for file %s in archive", f.Name)
	}
	if n > declared {
		return errdefs.New(errdefs.KindArchiveTooLarge,
			"entry %q produced more data than the archive declared", f.Name)
	}
	return nil
}

// Workspace is the transient directory tree holding one request's extracted
// artifact. It is exclusively owned by the request that created it and must
// be closed (deleted) before the request returns, success or failure.
type Workspace struct {
	Dir string
}

// NewWorkspace creates an empty workspace directory under the system temp dir.
func NewWorkspace() (*Workspace, error) {
	dir, err := os.MkdirTemp("", "manifest-gateway-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// Close removes the workspace and everything in it.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.Dir)
}

// Files walks the workspace and returns the sorted relative paths of every
// regular file in it.
func (w *Workspace) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.Dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
