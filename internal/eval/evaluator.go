package eval

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/apple/pkl-go/pkl"
	"gopkg.in/yaml.v3"

	"github.com/machflow/envsmith/internal/ir"
)

//go:embed builtin.yaml
var builtinManifest []byte

// BuiltinSource names the embedded manifest in diagnostics.
const BuiltinSource = "builtin"

// DefaultFiles are looked up in the project root, in order, when no manifest
// is given explicitly.
var DefaultFiles = []string{"envsmith.yaml", "envsmith.yml", "envsmith.pkl"}

// Evaluator loads manifests from YAML, Pkl, or S3 into IR types.
type Evaluator struct {
	projectDir string
	fetcher    ObjectFetcher
	awsRegion  string
	awsProfile string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithFetcher sets the object fetcher used for s3:// sources.
func WithFetcher(f ObjectFetcher) Option {
	return func(e *Evaluator) {
		e.fetcher = f
	}
}

// WithAWS sets the region and shared-config profile for s3:// sources.
func WithAWS(region, profile string) Option {
	return func(e *Evaluator) {
		e.awsRegion = region
		e.awsProfile = profile
	}
}

func NewEvaluator(projectDir string, opts ...Option) *Evaluator {
	e := &Evaluator{projectDir: projectDir}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadManifest loads a manifest and returns it with the source it came from.
// An empty source selects the first default file in the project root, or the
// built-in manifest when there is none.
func (e *Evaluator) LoadManifest(ctx context.Context, source string) (*ir.ManifestFile, string, error) {
	if source == "" {
		for _, name := range DefaultFiles {
			candidate := filepath.Join(e.projectDir, name)
			if _, err := os.Stat(candidate); err == nil {
				source = candidate
				break
			}
		}
	}
	if source == "" || source == BuiltinSource {
		mf, err := decodeYAML(builtinManifest)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode built-in manifest: %w", err)
		}
		return mf, BuiltinSource, nil
	}

	if strings.HasPrefix(source, "s3://") {
		mf, err := e.loadS3(ctx, source)
		return mf, source, err
	}

	if !filepath.IsAbs(source) {
		source = filepath.Join(e.projectDir, source)
	}
	mf, err := e.loadFile(ctx, source)
	return mf, source, err
}

func (e *Evaluator) loadFile(ctx context.Context, file string) (*ir.ManifestFile, error) {
	if strings.EqualFold(filepath.Ext(file), ".pkl") {
		return e.evaluatePkl(ctx, pkl.FileSource(file))
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", file, err)
	}
	mf, err := decodeYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", file, err)
	}
	return mf, nil
}

func (e *Evaluator) loadS3(ctx context.Context, uri string) (*ir.ManifestFile, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if e.fetcher == nil {
		f, err := NewS3Fetcher(ctx, e.awsRegion, e.awsProfile)
		if err != nil {
			return nil, err
		}
		e.fetcher = f
	}
	raw, err := e.fetcher.Fetch(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(path.Ext(key), ".pkl") {
		return e.evaluatePkl(ctx, pkl.TextSource(string(raw)))
	}
	mf, err := decodeYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", uri, err)
	}
	return mf, nil
}

// evaluatePkl evaluates a Pkl manifest module. A PklProject in the project
// directory makes its dependencies available to the manifest.
func (e *Evaluator) evaluatePkl(ctx context.Context, source *pkl.ModuleSource) (*ir.ManifestFile, error) {
	var (
		evaluator pkl.Evaluator
		err       error
	)
	if _, statErr := os.Stat(filepath.Join(e.projectDir, "PklProject")); statErr == nil {
		u, perr := url.Parse("file://" + filepath.ToSlash(e.projectDir) + "/")
		if perr != nil {
			return nil, fmt.Errorf("failed to parse project directory URL: %w", perr)
		}
		evaluator, err = pkl.NewProjectEvaluator(ctx, u, pkl.PreconfiguredOptions)
	} else {
		evaluator, err = pkl.NewEvaluator(ctx, pkl.PreconfiguredOptions)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var mf ir.ManifestFile
	if err := evaluator.EvaluateModule(ctx, source, &mf); err != nil {
		return nil, fmt.Errorf("failed to evaluate manifest: %w", err)
	}
	return &mf, nil
}

func decodeYAML(raw []byte) (*ir.ManifestFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var mf ir.ManifestFile
	if err := dec.Decode(&mf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("manifest is empty")
		}
		return nil, err
	}
	return &mf, nil
}

// Builtin returns the embedded manifest document.
func Builtin() []byte {
	return append([]byte(nil), builtinManifest...)
}
