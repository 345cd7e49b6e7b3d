// Package chunk implements C2, the Chunk Reassembler: turning the set of
// files an ingress session has accumulated in a deposit's staging directory
// into a single archive ready for C3 to extract.
//
// A deposit's MimeType (deposit.Single or deposit.Chunked) decides the
// strategy. Single mode is a rename; chunked mode concatenates parts in
// ascending sequence-number order, the same ordering discipline the teacher
// repo's fragment.Store uses to keep a file's fragments ("Children
// []*fragment") in upload order, generalized here from an in-memory slice to
// filename suffixes since chunks arrive as independent files in a directory
// rather than through a long-lived upload session.
package chunk

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ndlib/sworddeposit/deposit"
	"github.com/ndlib/sworddeposit/depositprops"
	"github.com/ndlib/sworddeposit/ferrors"
)

// MergedName is the filename the reassembled archive is written under,
// regardless of which mimetype produced it.
const MergedName = "merged.archive"

// Reassemble inspects dir for the deposit's uploaded parts, per mimeType,
// and produces a single archive file at dir/MergedName. It returns the path
// to that file.
//
// In deposit.Single mode, dir must contain exactly one regular file (the
// already-complete archive); it is renamed to MergedName. Anything else —
// zero files, more than one, a non-regular file such as a directory or
// symlink — is a Failed fault: the ingress front is supposed to guarantee
// single-mode deposits hold exactly one file, so a violation here means the
// dataset is internally inconsistent, not that the client misbehaved.
//
// In deposit.Chunked mode, dir must contain one or more files whose names
// end in ".N" for a non-negative integer N; they are sorted ascending by N
// and concatenated in that order. Gaps in the sequence are not checked for
// and do not cause a failure — only the sort order is guaranteed. A missing
// or malformed suffix, or an empty parts list, are Invalid faults: the
// client controls how chunks are named when it uploads them.
func Reassemble(dir string, mimeType deposit.MimeType) (string, error) {
	switch mimeType {
	case deposit.Single:
		return reassembleSingle(dir)
	case deposit.Chunked:
		return reassembleChunked(dir)
	default:
		return "", ferrors.Failed(nil, "unrecognized mimetype %q for deposit at %s", mimeType, dir)
	}
}

func reassembleSingle(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ferrors.Failed(err, "reading staging directory %s", dir)
	}

	var regular []os.DirEntry
	for _, e := range entries {
		if e.Name() == depositprops.PropertiesFile {
			continue
		}
		regular = append(regular, e)
	}

	if len(regular) != 1 {
		return "", ferrors.Failed(nil, "inconsistent dataset: expected exactly one part in %s, found %d", dir, len(regular))
	}
	info, err := regular[0].Info()
	if err != nil {
		return "", ferrors.Failed(err, "stat %s", regular[0].Name())
	}
	if !info.Mode().IsRegular() {
		return "", ferrors.Failed(nil, "inconsistent dataset: %s is not a regular file", regular[0].Name())
	}

	src := filepath.Join(dir, regular[0].Name())
	dst := filepath.Join(dir, MergedName)
	if err := os.Rename(src, dst); err != nil {
		return "", ferrors.Failed(err, "renaming %s to %s", src, dst)
	}
	return dst, nil
}

type chunkPart struct {
	seq  int
	path string
}

func reassembleChunked(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ferrors.Failed(err, "reading staging directory %s", dir)
	}

	var parts []chunkPart
	for _, e := range entries {
		if e.Name() == depositprops.PropertiesFile || e.IsDir() {
			continue
		}
		seq, err := sequenceNumber(e.Name())
		if err != nil {
			return "", err
		}
		parts = append(parts, chunkPart{seq: seq, path: filepath.Join(dir, e.Name())})
	}

	if len(parts) == 0 {
		return "", ferrors.Invalidf("no payload: deposit has no uploaded parts")
	}

	// Sort ascending by sequence number only; gaps in the sequence are
	// not an error (spec.md §8 documents this explicitly) since a client
	// may re-send a part under a new number without renumbering the rest.
	sort.Slice(parts, func(i, j int) bool { return parts[i].seq < parts[j].seq })

	dst := filepath.Join(dir, MergedName)
	if err := concatenate(parts, dst); err != nil {
		return "", err
	}
	for _, p := range parts {
		os.Remove(p.path)
	}
	return dst, nil
}

// sequenceNumber extracts the trailing ".N" suffix from a chunk filename.
func sequenceNumber(name string) (int, error) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return 0, ferrors.Invalidf("incorrect extension; should be a sequence number: %s has no extension", name)
	}
	n, err := strconv.Atoi(name[idx+1:])
	if err != nil || n < 0 {
		return 0, ferrors.Invalidf("incorrect extension; should be a sequence number: %s", name)
	}
	return n, nil
}

func concatenate(parts []chunkPart, dst string) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0664)
	if err != nil {
		return ferrors.Failed(err, "creating %s", dst)
	}
	defer out.Close()

	for _, p := range parts {
		if err := appendFile(out, p.path); err != nil {
			return ferrors.Failed(err, "appending %s", p.path)
		}
	}
	return nil
}

func appendFile(out *os.File, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(out, in)
	return err
}
