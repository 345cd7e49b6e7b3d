// Package bagit implements enough of the BagIt specification to validate a
// bag that has already been extracted onto disk. It is tailored to the
// layout this repository's archive extractor produces: a single directory
// containing a "data/" payload tree plus tag files and manifests at its
// root. Nothing in this system re-serializes a deposit into a bag once it
// has arrived, so only the read/verify side of the BagIt spec is
// implemented; there is no Writer.
//
// Checksums are computed fresh every time a bag is verified; nothing is
// cached between calls.
//
// The BagIt spec can be found at https://tools.ietf.org/html/draft-kunze-bagit-11.
package bagit

import "errors"

const (
	// Version is the version of the BagIt specification this package implements.
	Version = "0.97"
)

// Checksum holds whichever digests a manifest line supplied for a file.
// A nil slice means that digest type was not present in the manifest.
// Only MD5 and SHA256 are supported, the two digests this repository's
// hashing utilities compute.
type Checksum struct {
	MD5    []byte
	SHA256 []byte
}

// BagError records a validation failure: the bag directory was readable,
// but its contents do not satisfy the spec (missing payload file, checksum
// mismatch, missing required tag file). Callers distinguish this from a
// plain error, which means the bag could not even be read.
type BagError string

func (e BagError) Error() string { return string(e) }

// ErrNotFound is returned when a named file cannot be located in the bag.
var ErrNotFound = errors.New("bagit: file not found in bag")
