// Package promote implements C6, the Storage Promoter: moving a validated
// deposit from its staging directory into permanent storage.
//
// The happy path is exactly the write-to-temp-then-rename idiom the
// teacher repo's store.FileSystem.Create used (moveCloser.Close in its
// store/file_store.go): an atomic os.Rename with a precondition check
// against the destination already existing. Staging and storage roots are
// ordinarily on the same filesystem, but when they are not, os.Rename
// returns a cross-device error and this package falls back to a recursive
// copy into a temp sibling of storageDir, fsync, then a final rename into
// place — so a concurrent reader never observes storageDir half-copied,
// the same copy-then-rename shape config.WriteAtomic uses for a single file.
package promote

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ndlib/sworddeposit/ferrors"
)

// errAlreadyExists means the destination directory is already occupied;
// promotion never overwrites an existing deposit.
type errAlreadyExists string

func (e errAlreadyExists) Error() string { return "promote: destination already exists: " + string(e) }

// Promote moves stagingDir to storageDir. It requires storageDir not
// already exist. When stagingDir and storageDir are on the same filesystem
// this is a single atomic rename; otherwise it falls back to a recursive
// copy into a temp sibling, fsync, rename into place, then removal of
// stagingDir.
func Promote(stagingDir, storageDir string) error {
	if _, err := os.Stat(storageDir); err == nil {
		return ferrors.Failed(errAlreadyExists(storageDir), "promoting %s", stagingDir)
	} else if !os.IsNotExist(err) {
		return ferrors.Failed(err, "checking destination %s", storageDir)
	}

	if err := os.MkdirAll(filepath.Dir(storageDir), 0775); err != nil {
		return ferrors.Failed(err, "creating parent of %s", storageDir)
	}

	err := os.Rename(stagingDir, storageDir)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return ferrors.Failed(err, "promoting %s to %s", stagingDir, storageDir)
	}
	return crossDevicePromote(stagingDir, storageDir)
}

// crossDevicePromote is the fallback Promote uses when stagingDir and
// storageDir do not share a filesystem and os.Rename cannot be used
// directly. It copies stagingDir into a temp directory alongside
// storageDir, fsyncing every file as it goes, and only renames the temp
// directory into storageDir's place once the copy has fully succeeded —
// so a reader stat-ing storageDir mid-promotion either sees nothing or
// sees the complete deposit, never a partial one.
func crossDevicePromote(stagingDir, storageDir string) error {
	tmp, err := os.MkdirTemp(filepath.Dir(storageDir), filepath.Base(storageDir)+".tmp-")
	if err != nil {
		return ferrors.Failed(err, "creating temp destination for %s", storageDir)
	}
	if err := copyTree(stagingDir, tmp); err != nil {
		os.RemoveAll(tmp)
		return ferrors.Failed(err, "copying %s to %s across devices", stagingDir, storageDir)
	}
	if err := os.Rename(tmp, storageDir); err != nil {
		os.RemoveAll(tmp)
		return ferrors.Failed(err, "renaming temp copy into place at %s", storageDir)
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		return ferrors.Failed(err, "removing staged copy of %s after cross-device promotion", stagingDir)
	}
	return nil
}

// isCrossDevice reports whether err is the "invalid cross-device link"
// failure os.Rename returns when source and destination are on different
// filesystems. It compares the text of the error wrapped in the
// *os.LinkError that os.Rename returns with the Linux message for EXDEV.
func isCrossDevice(err error) bool {
	linkErr, ok := err.(*os.LinkError)
	if !ok {
		return false
	}
	return linkErr.Err != nil && linkErr.Err.Error() == "invalid cross-device link"
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0775); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
