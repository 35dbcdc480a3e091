package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/syssam/fhirgen/compiler/gen"
)

// RunConfig is the configuration of one generation run, usually read from
// a YAML file:
//
//	definitions:
//	  url: https://hl7.org/fhir/R4/definitions.json.zip
//	  version: 4.0.1
//	  sources: [profiles-types.json, profiles-resources.json]
//	parser:
//	  base_url: http://hl7.org/fhir
//	  mappings:
//	    http://hl7.org/fhirpath/System.String: http://hl7.org/fhir/StructureDefinition/string
//	renderer:
//	  preset: pydantic
//	  output_dir: ./out
//	  variables:
//	    package_name: fhir_r4
type RunConfig struct {
	Definitions Definitions `yaml:"definitions"`
	Parser      Parser      `yaml:"parser"`
	Renderer    Renderer    `yaml:"renderer"`
	// CacheDir holds downloaded bundles and decoded records. Defaults to
	// the XDG cache directory.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`
}

// Definitions locates the definitions bundle.
type Definitions struct {
	// URL is an http(s) or file URL, a zip archive path or a directory.
	URL     string   `yaml:"url"`
	Version string   `yaml:"version,omitempty"`
	Sources []string `yaml:"sources"`
}

// Parser configures the type graph.
type Parser struct {
	BaseURL    string            `yaml:"base_url"`
	Mappings   map[string]string `yaml:"mappings,omitempty"`
	Permissive bool              `yaml:"permissive,omitempty"`
}

// Renderer configures the output.
type Renderer struct {
	Preset    string         `yaml:"preset"`
	OutputDir string         `yaml:"output_dir"`
	Variables map[string]any `yaml:"variables,omitempty"`
}

// LoadConfig reads a YAML run configuration. Environment variables in the
// file are expanded, and relative paths are resolved against the directory
// of the file.
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	rc, err := ParseConfig([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	rc.Path = abs
	rc.resolvePaths(filepath.Dir(abs))
	return rc, nil
}

// ParseConfig decodes a YAML run configuration. Unknown keys are rejected.
func ParseConfig(data []byte) (*RunConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	rc := &RunConfig{}
	if err := dec.Decode(rc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return rc, nil
}

// Validate reports every missing or invalid setting.
func (rc *RunConfig) Validate() error {
	var errs []error
	if rc.Definitions.URL == "" {
		errs = append(errs, gen.NewConfigError("definitions.url", nil, "definitions url cannot be empty"))
	}
	if len(rc.Definitions.Sources) == 0 {
		errs = append(errs, gen.NewConfigError("definitions.sources", nil, "at least one source is required"))
	}
	if rc.Parser.BaseURL == "" {
		errs = append(errs, gen.NewConfigError("parser.base_url", nil, "base url cannot be empty"))
	}
	if rc.Renderer.Preset == "" {
		errs = append(errs, gen.NewConfigError("renderer.preset", nil, "preset cannot be empty"))
	}
	if rc.Renderer.OutputDir == "" {
		errs = append(errs, gen.NewConfigError("renderer.output_dir", nil, "output directory cannot be empty"))
	}
	return errors.Join(errs...)
}

// LocalFiles returns the local files the run reads, for watching: the
// configuration file and a local definitions bundle.
func (rc *RunConfig) LocalFiles() []string {
	var files []string
	if rc.Path != "" {
		files = append(files, rc.Path)
	}
	if isLocal(rc.Definitions.URL) {
		loc := rc.Definitions.URL
		if u, err := url.Parse(loc); err == nil && u.Scheme == "file" {
			loc = u.Path
		}
		files = append(files, loc)
	}
	return files
}

func (rc *RunConfig) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	rc.Renderer.OutputDir = abs(rc.Renderer.OutputDir)
	rc.CacheDir = abs(rc.CacheDir)
	if isLocal(rc.Definitions.URL) {
		if u, err := url.Parse(rc.Definitions.URL); err != nil || u.Scheme == "" {
			rc.Definitions.URL = abs(rc.Definitions.URL)
		}
	}
}

// isLocal reports whether the definitions location is on the local file
// system.
func isLocal(loc string) bool {
	if loc == "" {
		return false
	}
	u, err := url.Parse(loc)
	if err != nil {
		return true
	}
	return u.Scheme == "" || u.Scheme == "file" || len(u.Scheme) == 1
}
