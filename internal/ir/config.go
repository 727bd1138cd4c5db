package ir

import (
	"fmt"
	"sort"
	"strings"
)

// ManifestFile is a manifest document holding one or more named profiles.
type ManifestFile struct {
	Default  string               `yaml:"default" pkl:"default"`
	Profiles map[string]*Manifest `yaml:"profiles" pkl:"profiles"`
}

// Manifest is the declarative description of a single environment.
type Manifest struct {
	Name     string   `yaml:"name" pkl:"name"`
	Manager  string   `yaml:"manager" pkl:"manager"` // e.g., "conda", "mamba"
	Python   string   `yaml:"python" pkl:"python"`
	Channels []string `yaml:"channels" pkl:"channels"` // precedence = order
	Packages []string `yaml:"packages" pkl:"packages"`
	Layer    []string `yaml:"layer" pkl:"layer"`
	Editable *bool    `yaml:"editable" pkl:"editable"`
}

// DefaultManager is used when a profile does not name one.
const DefaultManager = "conda"

// ProfileNames returns the profile names in sorted order.
func (f *ManifestFile) ProfileNames() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile selects a profile by name. An empty name selects the file's default,
// or the only profile when the file declares exactly one.
func (f *ManifestFile) Profile(name string) (string, *Manifest, error) {
	if len(f.Profiles) == 0 {
		return "", nil, fmt.Errorf("manifest declares no profiles")
	}
	if name == "" {
		name = f.Default
	}
	if name == "" {
		if len(f.Profiles) != 1 {
			return "", nil, fmt.Errorf("manifest declares %d profiles and no default; choose one of: %s",
				len(f.Profiles), strings.Join(f.ProfileNames(), ", "))
		}
		name = f.ProfileNames()[0]
	}
	m, ok := f.Profiles[name]
	if !ok || m == nil {
		return "", nil, fmt.Errorf("unknown profile %q; choose one of: %s", name, strings.Join(f.ProfileNames(), ", "))
	}
	return name, m, nil
}

// ManagerName returns the configured primary manager or the default.
func (m *Manifest) ManagerName() string {
	if strings.TrimSpace(m.Manager) == "" {
		return DefaultManager
	}
	return strings.TrimSpace(m.Manager)
}

// LinkProject reports whether the project should be linked in editable mode.
func (m *Manifest) LinkProject() bool {
	return m.Editable == nil || *m.Editable
}

// PackageLayer returns the secondary layer as parsed specifiers.
func (m *Manifest) PackageLayer() (PackageLayer, error) {
	return ParseLayer(m.Layer)
}

// PrimaryPackages returns the interpreter pin followed by the primary packages.
func (m *Manifest) PrimaryPackages() ([]Package, error) {
	pkgs := make([]Package, 0, len(m.Packages)+1)
	pkgs = append(pkgs, Package{Name: "python", Version: "=" + strings.TrimPrefix(strings.TrimSpace(m.Python), "=")})
	for _, raw := range m.Packages {
		pkg, err := ParsePackage(raw)
		if err != nil {
			return nil, err
		}
		if pkg.Name == "python" {
			return nil, fmt.Errorf("package list pins python (%q); use the python field instead", raw)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// EnvSpec builds the create request for this manifest.
func (m *Manifest) EnvSpec() (EnvSpec, error) {
	pkgs, err := m.PrimaryPackages()
	if err != nil {
		return EnvSpec{}, err
	}
	channels := make([]string, 0, len(m.Channels))
	for _, ch := range m.Channels {
		channels = append(channels, strings.TrimSpace(ch))
	}
	return EnvSpec{Name: m.Name, Packages: pkgs, Channels: channels}, nil
}

// Validate checks the manifest for structural errors without contacting any
// tool, including every package and layer specifier.
func (m *Manifest) Validate() error {
	if err := m.Check(); err != nil {
		return err
	}
	if _, err := m.PrimaryPackages(); err != nil {
		return fmt.Errorf("environment %q: %w", m.Name, err)
	}
	if _, err := m.PackageLayer(); err != nil {
		return fmt.Errorf("environment %q: %w", m.Name, err)
	}
	return nil
}

// Check validates only what must hold before the pipeline starts: the name,
// the interpreter pin and the channel list. Specifiers are left to the
// stages that consume them.
func (m *Manifest) Check() error {
	if err := ValidateEnvName(m.Name); err != nil {
		return err
	}
	if strings.TrimSpace(m.Python) == "" {
		return fmt.Errorf("environment %q: python version is required", m.Name)
	}
	if len(m.Channels) == 0 {
		return fmt.Errorf("environment %q: at least one channel is required", m.Name)
	}
	seen := make(map[string]bool)
	for _, ch := range m.Channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			return fmt.Errorf("environment %q: empty channel name", m.Name)
		}
		if seen[ch] {
			return fmt.Errorf("environment %q: channel %q listed twice", m.Name, ch)
		}
		seen[ch] = true
	}
	return nil
}

// ValidateEnvName rejects names the package manager would misinterpret.
func ValidateEnvName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("environment name is required")
	}
	if name == "base" || name == "root" {
		return fmt.Errorf("environment name %q is reserved", name)
	}
	if strings.ContainsAny(name, " \t/\\:#") {
		return fmt.Errorf("environment name %q contains an invalid character", name)
	}
	return nil
}
