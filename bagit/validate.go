package bagit

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ndlib/sworddeposit/util"
)

// required tag files every bag must carry, per the BagIt spec.
var requiredTagFiles = []string{"bagit.txt"}

// Verify walks the bag directory at dir and checks that every file named in
// a manifest-<alg>.txt at its root exists under dir with a matching
// checksum, and that the required tag files are present. It returns a
// BagError describing the first class of problem found (there may be more;
// Verify does not try to be exhaustive once it has enough to call the bag
// invalid), or a plain error if the directory itself could not be read.
//
// A bag with no manifest files at all is itself a BagError ("no payload").
func Verify(dir string) error {
	return VerifyRated(dir, nil)
}

// VerifyRated behaves like Verify, but passes each payload file's reader
// through wrap before hashing it. A caller with a util.RateCounter can pass
// its Wrap method to pace how fast a fixity re-check reads bytes, the same
// way the teacher's fixity() loop wraps each blob reader in a rateReader
// before checksumming it. wrap may be nil, in which case no throttling is
// applied.
func VerifyRated(dir string, wrap func(io.Reader) io.Reader) error {
	for _, name := range requiredTagFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			if os.IsNotExist(err) {
				return BagError(fmt.Sprintf("missing required tag file %s", name))
			}
			return err
		}
	}

	manifests, err := filepath.Glob(filepath.Join(dir, "manifest-*.txt"))
	if err != nil {
		return err
	}
	if len(manifests) == 0 {
		return BagError("no payload: bag contains no manifest files")
	}

	seen := false
	for _, mpath := range manifests {
		entries, err := readManifest(mpath)
		if err != nil {
			return err
		}
		for relpath, want := range entries {
			seen = true
			ok, err := verifyPayloadFile(filepath.Join(dir, relpath), want, wrap)
			if err != nil {
				if os.IsNotExist(err) {
					return BagError(fmt.Sprintf("payload file missing: %s", relpath))
				}
				return err
			}
			if !ok {
				return BagError(fmt.Sprintf("checksum mismatch for %s", relpath))
			}
		}
	}
	if !seen {
		return BagError("no payload: all manifests are empty")
	}
	return nil
}

// verifyPayloadFile checksums path and compares it against want using
// util.VerifyStreamHash, optionally passing the file's reader through wrap
// first.
func verifyPayloadFile(path string, want Checksum, wrap func(io.Reader) io.Reader) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var r io.Reader = f
	if wrap != nil {
		r = wrap(r)
	}
	return util.VerifyStreamHash(r, want.MD5, want.SHA256)
}

// readManifest parses a manifest-<alg>.txt file, in the "<hex digest>  <relative
// path>" format written by a BagIt bag writer (two spaces, matching GNU
// md5sum/sha256sum output). The digest algorithm is taken from the filename.
func readManifest(path string) (map[string]Checksum, error) {
	alg, err := manifestAlgorithm(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	result := make(map[string]Checksum)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		digest, err := hex.DecodeString(fields[0])
		if err != nil {
			return nil, BagError(fmt.Sprintf("malformed manifest line in %s: %s", path, line))
		}
		relpath := strings.Join(fields[1:], " ")
		ck := result[relpath]
		setDigest(&ck, alg, digest)
		result[relpath] = ck
	}
	return result, scanner.Err()
}

// manifestAlgorithm extracts and validates the digest algorithm named in a
// manifest-<alg>.txt filename. Only md5 and sha256 are supported, matching
// the two algorithms util.HashWriter computes; a bag shipping a
// manifest-sha1.txt or manifest-sha512.txt is rejected rather than silently
// skipped.
func manifestAlgorithm(basename string) (string, error) {
	name := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(basename, "manifest-"), ".txt"))
	switch name {
	case "md5", "sha256":
		return name, nil
	default:
		return "", BagError(fmt.Sprintf("unsupported manifest algorithm in %s", basename))
	}
}

func setDigest(c *Checksum, alg string, digest []byte) {
	switch alg {
	case "md5":
		c.MD5 = digest
	case "sha256":
		c.SHA256 = digest
	}
}

