// Package project reads the descriptor of the Python project being linked
// into the environment.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ErrNoDescriptor is returned when a directory has no project descriptor.
var ErrNoDescriptor = errors.New("no project descriptor (pyproject.toml, setup.py or setup.cfg)")

// Descriptor is the subset of project metadata the linker needs.
type Descriptor struct {
	Root         string
	File         string // descriptor file name, e.g. "pyproject.toml"
	Name         string
	Version      string
	Dependencies []string
}

type pyproject struct {
	Project struct {
		Name         string   `toml:"name"`
		Version      string   `toml:"version"`
		Dependencies []string `toml:"dependencies"`
		Dynamic      []string `toml:"dynamic"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name         string         `toml:"name"`
			Version      string         `toml:"version"`
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// Load reads the descriptor in root. pyproject.toml wins over the legacy
// setuptools files, which only establish that the project is installable.
func Load(root string) (*Descriptor, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("project root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}

	raw, err := os.ReadFile(filepath.Join(abs, "pyproject.toml"))
	switch {
	case err == nil:
		return parsePyproject(abs, raw)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read pyproject.toml: %w", err)
	}

	for _, legacy := range []string{"setup.py", "setup.cfg"} {
		if _, err := os.Stat(filepath.Join(abs, legacy)); err == nil {
			return &Descriptor{Root: abs, File: legacy, Name: filepath.Base(abs)}, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", abs, ErrNoDescriptor)
}

func parsePyproject(root string, raw []byte) (*Descriptor, error) {
	var doc pyproject
	if err := toml.Unmarshal(raw, &doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("invalid pyproject.toml at line %d, column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("invalid pyproject.toml: %w", err)
	}

	d := &Descriptor{Root: root, File: "pyproject.toml"}
	switch {
	case doc.Project.Name != "":
		d.Name = doc.Project.Name
		d.Version = doc.Project.Version
		d.Dependencies = doc.Project.Dependencies
	case doc.Tool.Poetry.Name != "":
		d.Name = doc.Tool.Poetry.Name
		d.Version = doc.Tool.Poetry.Version
		for dep := range doc.Tool.Poetry.Dependencies {
			if dep != "python" {
				d.Dependencies = append(d.Dependencies, dep)
			}
		}
	default:
		return nil, fmt.Errorf("pyproject.toml in %s declares no project name", root)
	}

	if d.Version == "" && !contains(doc.Project.Dynamic, "version") && doc.Tool.Poetry.Name == "" {
		return nil, fmt.Errorf("pyproject.toml in %s declares no version", root)
	}
	return d, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
