// Package archive expands .zip files found inside a submission tree.
//
// Expansion runs as a pre-pass before scanning: every archive is extracted
// into its containing directory and then deleted, repeating until no new
// archives appear (nested zips), bounded by a maximum nesting depth.
// Failures are per-archive and never abort the pass.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	// MaxDepth bounds the fixed-point loop so a zip bomb of nested
	// archives cannot recurse forever.
	MaxDepth = 5

	// maxEntryBytes caps a single decompressed entry.
	maxEntryBytes = int64(100 * 1024 * 1024)
)

// Error records a per-archive failure. It is non-fatal to the scan: the
// archive's contents are simply absent from the bundle.
type Error struct {
	Archive string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Archive, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Expand extracts every .zip under root in place, deletes each archive
// after successful extraction, and repeats until a pass finds nothing new.
// It returns the paths of archives that were expanded plus any per-archive
// errors. Re-running on an already-expanded tree is a no-op.
func Expand(root string, logger *zap.Logger) ([]string, []*Error) {
	var expanded []string
	var errs []*Error
	failed := map[string]bool{}

	for depth := 0; depth < MaxDepth; depth++ {
		zips := findZips(root, failed)
		if len(zips) == 0 {
			return expanded, errs
		}
		for _, z := range zips {
			if err := extractZip(z); err != nil {
				failed[z] = true
				errs = append(errs, &Error{Archive: z, Err: err})
				logger.Warn("archive extraction failed",
					zap.String("archive", z), zap.Error(err))
				continue
			}
			if err := os.Remove(z); err != nil {
				failed[z] = true
				errs = append(errs, &Error{Archive: z, Err: fmt.Errorf("remove after extract: %w", err)})
				continue
			}
			expanded = append(expanded, z)
			logger.Debug("extracted and removed archive", zap.String("archive", z))
		}
	}

	// Depth exhausted with archives still appearing.
	for _, z := range findZips(root, failed) {
		errs = append(errs, &Error{Archive: z, Err: fmt.Errorf("nesting depth %d exceeded", MaxDepth)})
	}
	return expanded, errs
}

func findZips(root string, failed map[string]bool) []string {
	var zips []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), ".zip") && !failed[p] {
			zips = append(zips, p)
		}
		return nil
	})
	sort.Strings(zips)
	return zips
}

// extractZip writes all entries of z into z's containing directory,
// rejecting entries that would escape it.
func extractZip(z string) error {
	r, err := zip.OpenReader(z)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer r.Close()

	destDir := filepath.Dir(z)
	for _, f := range r.File {
		if err := extractEntry(destDir, f); err != nil {
			return fmt.Errorf("entry %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractEntry(destDir string, f *zip.File) error {
	target, err := sanitizePath(destDir, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	// LimitReader + one extra byte detects oversize entries.
	n, err := io.Copy(out, io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return err
	}
	if n > maxEntryBytes {
		return fmt.Errorf("entry exceeds %d bytes", maxEntryBytes)
	}
	return nil
}

// sanitizePath rejects zip-slip entry names.
func sanitizePath(destDir, name string) (string, error) {
	name = filepath.FromSlash(name)
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("absolute entry path %q", name)
	}
	target := filepath.Join(destDir, name)
	cleanDest := filepath.Clean(destDir)
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry path %q escapes archive directory", name)
	}
	return target, nil
}
