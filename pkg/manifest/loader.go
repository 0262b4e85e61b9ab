package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/lagsearch/pkg/search"
	"github.com/3leaps/lagsearch/pkg/series"
)

// Load reads and validates a manifest from path.
//
// The format is chosen by extension: .yaml/.yml for YAML, .json for JSON.
// Unknown extensions try YAML first, then JSON. Series files are resolved
// relative to the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s: %w", path, os.ErrNotExist)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s: %w", path, os.ErrPermission)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	m, err := LoadFromBytes(data, path)
	if err != nil {
		return nil, err
	}
	if err := m.resolveFiles(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFromBytes parses and validates a manifest from raw bytes. Series
// given by file are left unresolved; see Resolve.
//
// Validation runs on the raw input converted to JSON, so unknown fields are
// rejected before the typed parse.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	m.ApplyDefaults()
	return &m, nil
}

// LoadFromReader reads and validates a manifest from r.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// Resolve loads every file-backed series relative to baseDir.
func (m *Manifest) Resolve(baseDir string) error {
	return m.resolveFiles(baseDir)
}

func (m *Manifest) resolveFiles(baseDir string) error {
	if err := m.Dependent.load(baseDir); err != nil {
		return err
	}
	for i := range m.Regressors {
		if err := m.Regressors[i].load(baseDir); err != nil {
			return err
		}
	}
	return nil
}

func (s *SeriesSource) load(baseDir string) error {
	if s.File == "" || s.Data != nil {
		return nil
	}
	path := s.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("series %q: %w", s.Name, err)
	}
	jsonData, err := toJSON(raw, path)
	if err != nil {
		return fmt.Errorf("series %q: %w", s.Name, err)
	}
	var data series.Series
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("series %q in %s: %w", s.Name, path, err)
	}
	s.Data = data
	return nil
}

// Request builds the search request described by the manifest. Regressor
// order follows the manifest.
func (m *Manifest) Request() (search.Request, error) {
	req := search.Request{
		Dataset: series.Dataset{
			Dependent: series.Named{Name: m.Dependent.Name, Data: m.Dependent.Data},
		},
		Config: m.Config,
	}
	seen := make(map[string]struct{}, len(m.Regressors))
	for _, r := range m.Regressors {
		if r.File != "" && r.Data == nil {
			return search.Request{}, fmt.Errorf("regressor %q: file %s not loaded", r.Name, r.File)
		}
		if _, ok := seen[r.Name]; ok {
			return search.Request{}, fmt.Errorf("regressor %q listed twice", r.Name)
		}
		seen[r.Name] = struct{}{}
		req.Regressors = append(req.Regressors, series.Named{Name: r.Name, Data: r.Data})
	}
	return req, nil
}

// toJSON converts YAML input to JSON. JSON input is checked and returned
// unchanged.
func toJSON(data []byte, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return data, nil
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse (tried YAML and JSON): %w", err)
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
	}
	return jsonData, nil
}
