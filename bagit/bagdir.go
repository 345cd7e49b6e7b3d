package bagit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FindDir locates the single bag directory among dir's entries. A deposit's
// staging or storage directory holds exactly one bag directory alongside
// whatever per-deposit metadata (a deposit.properties record, for instance)
// the caller has already accounted for; only directory entries are ever
// candidates, so a sibling metadata file never needs to be named and
// skipped explicitly.
//
// Shared by finalize (locating the bag just extracted into stagingDir) and
// fixity (locating the bag already promoted to storageDir) so both walk the
// same directory shape the same way.
func FindDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			candidates = append(candidates, filepath.Join(dir, e.Name()))
		}
	}

	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return "", errors.New("bagit: no bag directory found under " + dir)
	default:
		return "", fmt.Errorf("bagit: expected exactly one bag directory under %s, found %d", dir, len(candidates))
	}
}
