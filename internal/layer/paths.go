package layer

import "path/filepath"

// JulesDir is the runtime data directory at the repository root.
const JulesDir = ".jules"

// Paths resolves locations inside a repository's .jules directory. All
// results are joined onto Root.
type Paths struct {
	Root string
}

func (p Paths) Jules() string { return filepath.Join(p.Root, JulesDir) }

func (p Paths) LayerDir(l Layer) string {
	return filepath.Join(p.Jules(), "layers", l.DirName())
}

func (p Paths) PromptTemplate(l Layer) string {
	return filepath.Join(p.LayerDir(l), l.PromptTemplateName())
}

func (p Paths) Contracts(l Layer) string {
	return filepath.Join(p.LayerDir(l), "contracts.yml")
}

func (p Paths) TasksDir(l Layer) string {
	return filepath.Join(p.LayerDir(l), "tasks")
}

func (p Paths) RolesDir(l Layer) string {
	return filepath.Join(p.LayerDir(l), "roles")
}

func (p Paths) Exchange() string { return filepath.Join(p.Jules(), "exchange") }

func (p Paths) Changes() string { return filepath.Join(p.Exchange(), "changes.yml") }

func (p Paths) EventsDir() string { return filepath.Join(p.Exchange(), "events") }

func (p Paths) EventsPending() string { return filepath.Join(p.EventsDir(), "pending") }

func (p Paths) EventsDecided() string { return filepath.Join(p.EventsDir(), "decided") }

func (p Paths) Requirements() string { return filepath.Join(p.Exchange(), "requirements") }

func (p Paths) Innovators() string { return filepath.Join(p.Exchange(), "innovators") }

func (p Paths) InnovatorPersona(persona string) string {
	return filepath.Join(p.Innovators(), persona)
}

func (p Paths) InnovatorIdea(persona string) string {
	return filepath.Join(p.InnovatorPersona(persona), "idea.yml")
}

func (p Paths) InnovatorComments(persona string) string {
	return filepath.Join(p.InnovatorPersona(persona), "comments")
}

// Rel returns path relative to Root, or path unchanged when it is not below
// Root.
func (p Paths) Rel(path string) string {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (p Paths) Proposals() string { return filepath.Join(p.Exchange(), "proposals") }

// GitHubLabels is the label catalog used to tag implementer pull requests.
func (p Paths) GitHubLabels() string { return filepath.Join(p.Jules(), "github-labels.json") }
