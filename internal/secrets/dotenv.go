package secrets

import (
	"fmt"
	"os"

	"github.com/subosito/gotenv"
)

// DotenvStore serves values parsed from a .env style file.
type DotenvStore struct {
	path   string
	values gotenv.Env
}

// LoadDotenv parses path strictly; malformed lines are an error rather than
// silently skipped.
func LoadDotenv(path string) (*DotenvStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dotenv file %s: %w", path, err)
	}
	defer f.Close()

	values, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dotenv file %s: %w", path, err)
	}
	return &DotenvStore{path: path, values: values}, nil
}

// Get implements Store.
func (d *DotenvStore) Get(key string) (string, error) {
	if v, ok := d.values[key]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

// Path returns the file the store was loaded from.
func (d *DotenvStore) Path() string {
	return d.path
}
