package config

import (
	"strconv"

	"github.com/pkg/errors"
)

// Startup is the service's parsed, validated startup configuration. Every
// field is converted and checked once, at load time — not lazily on first
// use — so a malformed properties file is reported before the first
// request is served instead of failing deep inside a request handler.
type Startup struct {
	TempDir       string // tempdir
	DepositsRoot  string // deposits-root
	BaseURL       string // base-url
	CollectionIRI string // collection.iri

	GitEnabled bool   // git.enabled
	GitUser    string // git.user
	GitEmail   string // git.email

	// QueueCapacity bounds the finalization queue (§5). Optional,
	// defaults to 16.
	QueueCapacity int // finalize.queue-capacity

	// FixityRateBytesPerSec throttles the background fixity ledger scan.
	// Zero disables background fixity checking. Optional.
	FixityRateBytesPerSec int64 // fixity.rate

	// FixityMySQL, if set, points the fixity ledger at a MySQL DSN
	// instead of the default embedded ql database. Optional.
	FixityMySQL string // fixity.mysql

	// MirrorS3Bucket, if set, makes promotion also write an off-site zip
	// bundle of each promoted deposit to this S3 bucket (promote.Mirror),
	// in addition to the filesystem copy at storageDir. Optional.
	MirrorS3Bucket string // mirror.s3-bucket
	MirrorS3Prefix string // mirror.s3-prefix
}

// LoadStartup reads and strictly validates the properties file at path.
func LoadStartup(path string) (*Startup, error) {
	kv, err := Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: reading startup properties")
	}
	return ParseStartup(kv)
}

// ParseStartup validates and converts a raw key/value map into a Startup.
// It is split out from LoadStartup so tests can exercise validation without
// touching disk.
func ParseStartup(kv map[string]string) (*Startup, error) {
	c := &Startup{
		QueueCapacity: 16,
	}

	c.TempDir = kv["tempdir"]
	if c.TempDir == "" {
		return nil, errors.New("config: tempdir is required")
	}
	c.DepositsRoot = kv["deposits-root"]
	if c.DepositsRoot == "" {
		return nil, errors.New("config: deposits-root is required")
	}
	c.BaseURL = kv["base-url"]
	if c.BaseURL == "" {
		return nil, errors.New("config: base-url is required")
	}
	c.CollectionIRI = kv["collection.iri"]

	if v, ok := kv["git.enabled"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrapf(err, "config: git.enabled=%q is not a boolean", v)
		}
		c.GitEnabled = b
	}
	c.GitUser = kv["git.user"]
	c.GitEmail = kv["git.email"]
	if c.GitEnabled && (c.GitUser == "" || c.GitEmail == "") {
		return nil, errors.New("config: git.enabled requires git.user and git.email")
	}

	if v, ok := kv["finalize.queue-capacity"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.Errorf("config: finalize.queue-capacity=%q must be a positive integer", v)
		}
		c.QueueCapacity = n
	}

	if v, ok := kv["fixity.rate"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, errors.Errorf("config: fixity.rate=%q must be a non-negative integer", v)
		}
		c.FixityRateBytesPerSec = n
	}
	c.FixityMySQL = kv["fixity.mysql"]

	c.MirrorS3Bucket = kv["mirror.s3-bucket"]
	c.MirrorS3Prefix = kv["mirror.s3-prefix"]

	return c, nil
}
