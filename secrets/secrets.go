// Package secrets supplies form values to unattended runs: first from the
// environment and an optional .env file, then from the operator.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Store looks values up in the process environment, then in a dotenv file.
type Store struct {
	file   map[string]string
	getenv func(string) string
}

// Load reads the dotenv file at path. A missing file or an empty path gives
// a Store backed by the environment only.
func Load(path string) (*Store, error) {
	s := &Store{file: map[string]string{}, getenv: os.Getenv}
	if path == "" {
		return s, nil
	}
	vals, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	s.file = vals
	return s, nil
}

// FromMap returns a Store over vals only.
func FromMap(vals map[string]string) *Store {
	return &Store{file: vals, getenv: func(string) string { return "" }}
}

// Key returns the lookup key of field for a pattern bound to domain:
// DOMAIN_FIELD upper-cased, or FIELD when the pattern has no domain.
func Key(domain, field string) string {
	if domain != "" {
		return strings.ToUpper(domain + "_" + field)
	}
	return strings.ToUpper(field)
}

// Lookup returns the non-empty value stored under Key(domain, field).
func (s *Store) Lookup(domain, field string) (key, value string, ok bool) {
	key = Key(domain, field)
	if v := s.getenv(key); v != "" {
		return key, v, true
	}
	if v := s.file[key]; v != "" {
		return key, v, true
	}
	return key, "", false
}
