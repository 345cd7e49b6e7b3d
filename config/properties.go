// Package config parses the key=value properties text format used both for
// the service's startup configuration file and for each deposit's
// deposit.properties record (spec'd identically: UTF-8 text, one "key=value"
// per line). It also provides the atomic write-to-temp-then-rename primitive
// both callers need.
//
// The scanning technique is the one bagit's tag-file reader uses in the
// teacher repo: a bufio.Scanner split on the first separator per line.
package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Parse reads "key=value" pairs from r, one per line. Blank lines and lines
// beginning with '#' are ignored. Leading and trailing whitespace around
// both key and value is trimmed.
func Parse(r io.Reader) (map[string]string, error) {
	result := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, errors.Errorf("config: malformed line, no '=': %q", line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		result[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Load reads and parses the properties file at path.
func Load(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// WriteAtomic serializes kv as sorted "key=value" lines and installs it at
// path by writing to a temp file in the same directory and renaming over
// the destination, so concurrent readers never observe a partially written
// file. The parent directory is created if it does not already exist.
func WriteAtomic(path string, kv map[string]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := bufio.NewWriter(tmp)
	for _, k := range keys {
		if _, err := w.WriteString(k + "=" + kv[k] + "\n"); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
