package ir

import (
	"fmt"
	"regexp"
	"strings"
)

// Package is a primary (channel-resolved) package specifier.
type Package struct {
	Channel string // optional, e.g. "pytorch" in "pytorch::pytorch"
	Name    string
	Version string // raw constraint as written, e.g. "=3.11" or "1.26.*"
}

var packagePattern = regexp.MustCompile(`^(?:([A-Za-z0-9][\w.\-/]*)::)?([A-Za-z0-9_][\w.\-]*)\s*([=<>!~][=<>!~\w.*+,|\-]*|\d[\w.*+,|\-]*)?$`)

// ParsePackage parses a primary package specifier such as "numpy",
// "pytorch::pytorch-cuda=12.1" or "numpy 1.26.*".
func ParsePackage(raw string) (Package, error) {
	s := strings.TrimSpace(raw)
	m := packagePattern.FindStringSubmatch(s)
	if m == nil {
		return Package{}, fmt.Errorf("invalid package specifier %q", raw)
	}
	return Package{Channel: m[1], Name: strings.ToLower(m[2]), Version: m[3]}, nil
}

// String renders the package as a single manager argument.
func (p Package) String() string {
	var b strings.Builder
	if p.Channel != "" {
		b.WriteString(p.Channel)
		b.WriteString("::")
	}
	b.WriteString(p.Name)
	if p.Version != "" {
		if p.Version[0] >= '0' && p.Version[0] <= '9' {
			b.WriteByte(' ')
		}
		b.WriteString(p.Version)
	}
	return b.String()
}

// Specifier is a secondary-layer specifier: a bare name, or a name with
// extras and/or version constraints, or a direct reference ("name @ url").
type Specifier struct {
	Raw        string
	Name       string
	Extras     []string
	Constraint string
	URL        string
}

var (
	specifierPattern = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:\[\s*([A-Za-z0-9][A-Za-z0-9._-]*(?:\s*,\s*[A-Za-z0-9][A-Za-z0-9._-]*)*)\s*\])?\s*((?:===|==|!=|<=|>=|~=|<|>)\s*[A-Za-z0-9.*+!_-]+(?:\s*,\s*(?:===|==|!=|<=|>=|~=|<|>)\s*[A-Za-z0-9.*+!_-]+)*)?$`)
	directRefPattern = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*@\s*(\S+://\S+)$`)
	nameSeparators   = regexp.MustCompile(`[-_.]+`)
)

// ParseSpecifier parses and validates a secondary-layer specifier.
func ParseSpecifier(raw string) (Specifier, error) {
	s := strings.TrimSpace(raw)
	if m := directRefPattern.FindStringSubmatch(s); m != nil {
		return Specifier{Raw: s, Name: NormalizeName(m[1]), URL: m[2]}, nil
	}
	m := specifierPattern.FindStringSubmatch(s)
	if m == nil {
		return Specifier{}, fmt.Errorf("malformed specifier %q", raw)
	}
	spec := Specifier{Raw: s, Name: NormalizeName(m[1]), Constraint: strings.ReplaceAll(m[3], " ", "")}
	if m[2] != "" {
		for _, extra := range strings.Split(m[2], ",") {
			spec.Extras = append(spec.Extras, strings.TrimSpace(extra))
		}
	}
	return spec, nil
}

// String returns the specifier exactly as written in the manifest.
func (s Specifier) String() string {
	return s.Raw
}

// NormalizeName folds a distribution name into its canonical form, so that
// "Foo_Bar" and "foo-bar" compare equal.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// PackageLayer is an ordered batch of specifiers applied after creation.
type PackageLayer struct {
	Specifiers []Specifier
}

// ParseLayer parses every specifier in order and stops at the first
// malformed one.
func ParseLayer(raw []string) (PackageLayer, error) {
	layer := PackageLayer{Specifiers: make([]Specifier, 0, len(raw))}
	for _, r := range raw {
		spec, err := ParseSpecifier(r)
		if err != nil {
			return PackageLayer{}, err
		}
		layer.Specifiers = append(layer.Specifiers, spec)
	}
	return layer, nil
}

// Args returns the specifiers as installer arguments.
func (l PackageLayer) Args() []string {
	args := make([]string, len(l.Specifiers))
	for i, s := range l.Specifiers {
		args[i] = s.Raw
	}
	return args
}

// Empty reports whether the layer has no specifiers.
func (l PackageLayer) Empty() bool {
	return len(l.Specifiers) == 0
}
