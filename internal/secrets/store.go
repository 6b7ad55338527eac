// Package secrets provides the out-of-band value lookup behind secretRef
// entries. Stores only answer Get; values are never logged or written back
// by this package.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned by Get when a store has no value for a key.
var ErrNotFound = errors.New("secret not found")

// Store looks up secret values by key.
type Store interface {
	Get(key string) (string, error)
}

// MapStore is an in-memory store.
type MapStore map[string]string

// Get implements Store.
func (m MapStore) Get(key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

// EnvStore reads secrets from the process environment, optionally under a
// prefix (prefix "STACK_" maps key NPS_API_KEY to STACK_NPS_API_KEY).
type EnvStore struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore returns a store backed by os.LookupEnv.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{Prefix: prefix, lookup: os.LookupEnv}
}

// Get implements Store. An empty variable counts as unset.
func (e *EnvStore) Get(key string) (string, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(e.Prefix + key); ok && v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

// Chain consults stores in order; the first store holding the key wins.
type Chain []Store

// Get implements Store. Errors other than ErrNotFound stop the search.
func (c Chain) Get(key string) (string, error) {
	for _, s := range c {
		v, err := s.Get(key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", ErrNotFound
}

// Sources describes where a chain built by Open looks.
type Sources struct {
	EnvPrefix    string
	DotenvFiles  []string
	AgeFile      string
	IdentityFile string
}

// Open builds the standard chain: process environment first, then dotenv
// files in order, then the age-encrypted file. Missing dotenv files are
// skipped; a configured age file must exist.
func Open(src Sources) (Store, error) {
	chain := Chain{NewEnvStore(src.EnvPrefix)}

	for _, path := range src.DotenvFiles {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		store, err := LoadDotenv(path)
		if err != nil {
			return nil, err
		}
		chain = append(chain, store)
	}

	if src.AgeFile != "" {
		store, err := LoadAgeFile(src.AgeFile, src.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open encrypted secrets %s: %w", src.AgeFile, err)
		}
		chain = append(chain, store)
	}
	return chain, nil
}
