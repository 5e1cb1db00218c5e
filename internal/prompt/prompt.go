package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/layer"
)

var (
	ErrMissingTemplate  = errors.New("prompt template not found")
	ErrDisallowedSyntax = errors.New("prompt template uses disallowed block syntax")
)

// MissingIncludeError reports a required include that does not exist.
type MissingIncludeError struct {
	Path string
}

func (e *MissingIncludeError) Error() string {
	return fmt.Sprintf("required prompt include missing: %s", e.Path)
}

// UndefinedVariableError reports a template reference with no value in the
// context.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("prompt template references undefined variable %q", e.Name)
}

// Context holds template variables.
type Context map[string]string

// Assembled is a rendered prompt with the include files it used.
type Assembled struct {
	Content       string
	IncludedFiles []string
	SkippedFiles  []string
}

// Assembler renders the prompt for a layer.
type Assembler interface {
	Assemble(l layer.Layer, ctx Context) (Assembled, error)
}

// FileAssembler reads templates and contracts from the repository's .jules
// directory.
type FileAssembler struct {
	Paths layer.Paths
}

func NewFileAssembler(root string) *FileAssembler {
	return &FileAssembler{Paths: layer.Paths{Root: root}}
}

type contracts struct {
	Includes []include `yaml:"includes"`
}

type include struct {
	Path     string `yaml:"path"`
	Required bool   `yaml:"required"`
}

var (
	blockSyntax   = regexp.MustCompile(`\{%`)
	missingKeyErr = regexp.MustCompile(`map has no entry for key "([^"]+)"`)
)

func (a *FileAssembler) Assemble(l layer.Layer, ctx Context) (Assembled, error) {
	tplPath := a.Paths.PromptTemplate(l)
	raw, err := os.ReadFile(tplPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Assembled{}, fmt.Errorf("%w: %s", ErrMissingTemplate, a.Paths.Rel(tplPath))
		}
		return Assembled{}, err
	}
	if blockSyntax.Match(raw) {
		return Assembled{}, fmt.Errorf("%w: %s", ErrDisallowedSyntax, a.Paths.Rel(tplPath))
	}

	body, err := render(l.PromptTemplateName(), string(raw), ctx)
	if err != nil {
		return Assembled{}, err
	}

	out := Assembled{}
	var sb strings.Builder
	sb.WriteString(body)

	incs, err := a.includes(l)
	if err != nil {
		return Assembled{}, err
	}
	for _, inc := range incs {
		if !layer.IsSafeRelative(inc.Path) {
			return Assembled{}, apperr.Validation("prompt include escapes .jules: %s", inc.Path)
		}
		full := filepath.Join(a.Paths.Jules(), filepath.FromSlash(inc.Path))
		data, err := os.ReadFile(full)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Assembled{}, err
			}
			if inc.Required {
				return Assembled{}, &MissingIncludeError{Path: inc.Path}
			}
			out.SkippedFiles = append(out.SkippedFiles, inc.Path)
			continue
		}
		sb.WriteString("\n\n---\n# ")
		sb.WriteString(inc.Path)
		sb.WriteString("\n")
		sb.Write(bytes.TrimRight(data, "\n"))
		sb.WriteString("\n")
		out.IncludedFiles = append(out.IncludedFiles, inc.Path)
	}
	out.Content = sb.String()
	return out, nil
}

func (a *FileAssembler) includes(l layer.Layer) ([]include, error) {
	data, err := os.ReadFile(a.Paths.Contracts(l))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c contracts
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, apperr.ParseError{What: "contracts.yml", Details: err.Error()}
	}
	return c.Includes, nil
}

func render(name, text string, ctx Context) (string, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", apperr.ParseError{What: name, Details: err.Error()}
	}
	if ctx == nil {
		ctx = Context{}
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, map[string]string(ctx)); err != nil {
		if m := missingKeyErr.FindStringSubmatch(err.Error()); m != nil {
			return "", &UndefinedVariableError{Name: m[1]}
		}
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
