package requirement

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/layer"
)

// ErrNotRequirement is returned for paths outside the requirements directory.
var ErrNotRequirement = errors.New("not a requirement file")

// Header is the routing subset of a requirement file.
type Header struct {
	ID                   string
	Label                string
	RequiresDeepAnalysis bool
	SourceEvents         []string
}

type headerDoc struct {
	ID                   string   `yaml:"id"`
	Label                string   `yaml:"label"`
	RequiresDeepAnalysis *bool    `yaml:"requires_deep_analysis"`
	SourceEvents         []string `yaml:"source_events"`
}

// ParseHeader decodes the routing fields of a requirement document.
// requires_deep_analysis is mandatory: routing must never guess.
func ParseHeader(data []byte, path string) (Header, error) {
	var doc headerDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Header{}, apperr.ParseError{What: "requirement " + path, Details: err.Error()}
	}
	if doc.RequiresDeepAnalysis == nil {
		return Header{}, apperr.ParseError{What: "requirement " + path, Details: "missing requires_deep_analysis"}
	}
	return Header{
		ID:                   strings.TrimSpace(doc.ID),
		Label:                strings.TrimSpace(doc.Label),
		RequiresDeepAnalysis: *doc.RequiresDeepAnalysis,
		SourceEvents:         doc.SourceEvents,
	}, nil
}

// ReadHeader reads and parses the requirement at path.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	return ParseHeader(data, path)
}

// RoutesTo reports which issue-driven layer consumes a requirement.
func (h Header) RoutesTo() layer.Layer {
	if h.RequiresDeepAnalysis {
		return layer.Planners
	}
	return layer.Implementers
}

// Discover lists the requirement files in dir routed to l, sorted by path.
// Any unparsable file fails the whole discovery.
func Discover(dir string, l layer.Layer) ([]string, error) {
	if !l.IsIssueDriven() {
		return nil, apperr.Validation("layer %s does not consume requirements", l)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		h, err := ReadHeader(path)
		if err != nil {
			return nil, err
		}
		if h.RoutesTo() == l {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Resolve turns a user-supplied requirement path into an absolute path inside
// the requirements directory of paths.
func Resolve(paths layer.Paths, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", apperr.MissingArgument("requirement path is required")
	}
	p := input
	if !filepath.IsAbs(p) {
		p = filepath.Join(paths.Root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(paths.Requirements(), p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: must be under %s: %s", ErrNotRequirement, paths.Rel(paths.Requirements()), input)
	}
	if filepath.Ext(p) != ".yml" {
		return "", fmt.Errorf("%w: expected a .yml file: %s", ErrNotRequirement, input)
	}
	if _, err := os.Stat(p); err != nil {
		return "", apperr.Validation("requirement file does not exist: %s", input)
	}
	return p, nil
}
