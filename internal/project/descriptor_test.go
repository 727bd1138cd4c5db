package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_PEP621(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", `
[build-system]
requires = ["setuptools>=64"]
build-backend = "setuptools.build_meta"

[project]
name = "machflow"
version = "0.3.0"
dependencies = ["numpy", "xarray>=2024.1"]
`)

	d, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "machflow", d.Name)
	assert.Equal(t, "0.3.0", d.Version)
	assert.Equal(t, []string{"numpy", "xarray>=2024.1"}, d.Dependencies)
	assert.Equal(t, "pyproject.toml", d.File)
}

func TestLoad_DynamicVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", `
[build-system]
requires = ["setuptools", "setuptools-scm"]

[project]
name = "machflow"
dynamic = ["version"]
`)
	d, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "machflow", d.Name)
	assert.Empty(t, d.Version)
}

func TestLoad_Poetry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pyproject.toml", `
[tool.poetry]
name = "machflow"
version = "1.0.0"

[tool.poetry.dependencies]
python = "^3.11"
torch = "^2.2"
`)
	d, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "machflow", d.Name)
	assert.Equal(t, []string{"torch"}, d.Dependencies)
}

func TestLoad_SetupPyFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "setup.py", "from setuptools import setup\nsetup()\n")

	d, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "setup.py", d.File)
	assert.Equal(t, filepath.Base(dir), d.Name)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoDescriptor))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{"syntax", "[project\nname = 1", "invalid pyproject.toml"},
		{"no name", "[project]\nversion = \"1\"\n", "no project name"},
		{"no version", "[project]\nname = \"x\"\n", "no version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "pyproject.toml", tt.content)
			_, err := Load(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestLoad_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "file", "x")
	_, err := Load(filepath.Join(dir, "file"))
	assert.ErrorContains(t, err, "not a directory")
}
