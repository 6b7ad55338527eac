package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up when no descriptor path is given.
const DefaultFileName = "stack.yaml"

// Load reads and parses a descriptor file. Relative paths inside the file
// resolve against the file's directory. Load does not validate; call
// Validate before use.
func Load(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("descriptor %s not found", path)
		}
		return nil, fmt.Errorf("failed to read descriptor %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve descriptor path %s: %w", path, err)
	}

	d, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("failed to parse descriptor %s: %w", path, err)
	}
	if d.Name == "" {
		d.Name = defaultName(abs)
	}
	return d, nil
}

// Parse decodes descriptor YAML. Unknown fields are rejected so typos in
// keys like dependsOn surface instead of silently dropping an edge.
func Parse(data []byte, baseDir string) (*Deployment, error) {
	var d Deployment
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	d.BaseDir = baseDir
	for i := range d.Services {
		if d.Services[i].Kind == "" {
			d.Services[i].Kind = KindGeneric
		}
	}
	return &d, nil
}

// ResolvePath resolves p against the deployment's base directory.
func (d *Deployment) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.BaseDir, p)
}

func defaultName(absPath string) string {
	return filepath.Base(filepath.Dir(absPath))
}
