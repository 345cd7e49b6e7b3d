// Package extract implements C3, the Archive Extractor Adapter: unpacking a
// ZIP-family archive into a destination directory, preserving relative
// paths, while refusing any entry that would escape the destination.
//
// The teacher repo's items/zip.go wraps archive/zip to read bundles
// directly out of a store.Store without ever touching the filesystem; this
// adapter instead always has a filesystem destination, since the BagIt
// payload has to exist on disk for C4's manifest walk. It keeps the
// teacher's habit of never introducing a third-party archive library —
// archive/zip already covers everything the spec asks for.
package extract

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ndlib/sworddeposit/ferrors"
)

// Unpack extracts the ZIP archive at archivePath into destDir, creating any
// intermediate directories needed. Every failure here is an operator-class
// fault (corrupt archive, disk I/O) rather than a client-content problem,
// so it always returns a ferrors KindFailed error.
func Unpack(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return ferrors.Failed(err, "opening archive %s", archivePath)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractOne(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractOne(f *zip.File, destDir string) error {
	target, err := safeJoin(destDir, f.Name)
	if err != nil {
		return ferrors.Failed(err, "archive entry %q", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0775); err != nil {
			return ferrors.Failed(err, "creating directory %s", target)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0775); err != nil {
		return ferrors.Failed(err, "creating directory %s", filepath.Dir(target))
	}

	rc, err := f.Open()
	if err != nil {
		return ferrors.Failed(err, "reading archive entry %q", f.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return ferrors.Failed(err, "creating %s", target)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return ferrors.Failed(err, "writing %s", target)
	}
	return nil
}

// safeJoin joins destDir and name the way filepath.Join would, but rejects
// any result that would land outside destDir once cleaned — the defense
// against zip-slip path traversal archive.md §4.3 requires.
func safeJoin(destDir, name string) (string, error) {
	cleanedName := filepath.Clean(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(cleanedName) || strings.HasPrefix(cleanedName, ".."+string(filepath.Separator)) || cleanedName == ".." {
		return "", errPathTraversal(name)
	}
	target := filepath.Join(destDir, cleanedName)
	destWithSep := destDir + string(filepath.Separator)
	if target != destDir && !strings.HasPrefix(target, destWithSep) {
		return "", errPathTraversal(name)
	}
	return target, nil
}

type pathTraversalError string

func (e pathTraversalError) Error() string { return "unsafe archive entry path: " + string(e) }

func errPathTraversal(name string) error { return pathTraversalError(name) }
