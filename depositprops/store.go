// Package depositprops implements C1, the Deposit Properties Store: a small
// keyed record, persisted as a deposit.properties text file, that tracks a
// single deposit's lifecycle state. It is the direct analogue of
// fragment.Stat in the teacher repo, except the record lives on disk next
// to the content it describes instead of in a side metadata store, so that
// the record travels with the deposit when the deposit is promoted from
// staging to permanent storage (invariant 2 in spec.md §3).
package depositprops

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ndlib/sworddeposit/config"
	"github.com/ndlib/sworddeposit/deposit"
)

// PropertiesFile is the name of the per-deposit record, relative to either
// the staging or storage directory.
const PropertiesFile = "deposit.properties"

// ErrNotFound means a deposit has no record in either staging or storage.
var ErrNotFound = errors.New("depositprops: no record for deposit")

// Store locates the staging and storage directories for a deposit and
// reads/writes its properties record atomically. It holds no deposit state
// in memory; every call hits disk, per spec.md §4.1.
type Store struct {
	TempRoot     string // root for staging directories
	DepositsRoot string // root for promoted storage directories
}

// New returns a Store rooted at the given staging and storage directories.
func New(tempRoot, depositsRoot string) *Store {
	return &Store{TempRoot: tempRoot, DepositsRoot: depositsRoot}
}

// StagingDir returns the staging directory path for a deposit. It is not
// guaranteed to exist.
func (s *Store) StagingDir(id string) string {
	return filepath.Join(s.TempRoot, id)
}

// StorageDir returns the permanent storage directory path for a deposit. It
// is not guaranteed to exist.
func (s *Store) StorageDir(id string) string {
	return filepath.Join(s.DepositsRoot, id)
}

func (s *Store) stagingRecord(id string) string {
	return filepath.Join(s.StagingDir(id), PropertiesFile)
}

func (s *Store) storageRecord(id string) string {
	return filepath.Join(s.StorageDir(id), PropertiesFile)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Set writes state and message for a deposit. If preferStaging is true and
// a staging record already exists, the staging record is updated. Otherwise
// the storage record is updated, if it exists. If neither record exists,
// one is created under staging.
func (s *Store) Set(id string, state deposit.State, message string, preferStaging bool) error {
	staging := s.stagingRecord(id)
	storage := s.storageRecord(id)

	var target string
	switch {
	case preferStaging && exists(staging):
		target = staging
	case exists(storage):
		target = storage
	default:
		target = staging
	}

	kv := map[string]string{
		"state":             string(state),
		"state.description": message,
	}
	return config.WriteAtomic(target, kv)
}

// GetState returns the current state of a deposit, consulting the staging
// record first and falling back to the storage record. It returns
// ErrNotFound if neither record exists.
func (s *Store) GetState(id string) (deposit.State, error) {
	props, _, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return props.State, nil
}

// Get returns the full properties record for a deposit along with the
// directory it was read from (staging or storage).
func (s *Store) Get(id string) (deposit.Properties, string, error) {
	for _, dir := range []string{s.StagingDir(id), s.StorageDir(id)} {
		path := filepath.Join(dir, PropertiesFile)
		if !exists(path) {
			continue
		}
		kv, err := config.Load(path)
		if err != nil {
			return deposit.Properties{}, dir, errors.Wrapf(err, "depositprops: reading %s", path)
		}
		return deposit.Properties{
			State:            deposit.State(kv["state"]),
			StateDescription: kv["state.description"],
			MimeType:         deposit.MimeType(kv["mimetype"]),
			ExpectedMD5:      kv["expected-md5"],
		}, dir, nil
	}
	return deposit.Properties{}, "", ErrNotFound
}
