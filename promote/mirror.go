package promote

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ndlib/sworddeposit/ferrors"
	"github.com/ndlib/sworddeposit/store"
)

// Mirror writes a single-file zip bundle of dir's contents to dst under
// key, for deployments that want an off-site copy of a promoted deposit
// in addition to the filesystem copy promotion always produces. It never
// runs in place of Promote — spec.md §3 defines storageDir as a
// filesystem path, so the local promotion in Promote above stays the
// source of truth; Mirror is a supplemental, best-effort backup.
//
// The bundling itself is the teacher's items/zip.go Zipwriter, generalized
// from "one bundle file per item, chosen by item id and bundle number" to
// "one bundle per promoted deposit" — store.Store's Create/Open contract
// doesn't change, only what gets written into it.
func Mirror(dir, key string, dst store.Store) error {
	w, err := dst.Create(key)
	if err != nil {
		return ferrors.Failed(err, "opening mirror bundle %s", key)
	}
	zw := zip.NewWriter(w)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		return addToZip(zw, path, rel)
	})

	if closeErr := zw.Close(); err == nil {
		err = closeErr
	}
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ferrors.Failed(err, "mirroring %s to %s", dir, key)
	}
	return nil
}

func addToZip(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(name)
	header.Method = zip.Deflate

	out, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = io.Copy(out, in)
	return err
}
