package mock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/dispatch"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/requirement"
)

func (d *Dispatcher) commitMessage(role, text string) string {
	return fmt.Sprintf("[%s] %s: %s", d.Config.Tag, role, text)
}

func (d *Dispatcher) title(text string) string {
	return fmt.Sprintf("[%s] %s", d.Config.Tag, text)
}

func (d *Dispatcher) narrator(ctx context.Context) (Output, error) {
	now := d.now()
	return d.publish(ctx, change{
		base:    d.Config.WorkerBranch,
		branch:  d.Config.BranchName(layer.Narrator, Timestamp(now)),
		message: d.commitMessage("narrator", "mock changes"),
		title:   d.title("Narrator changes"),
		apply: func() ([]string, error) {
			doc := map[string]any{
				"schema_version": 1,
				"mock_tag":       d.Config.Tag,
				"created_at":     now.UTC().Format(time.RFC3339),
				"summary":        "Mock narrator summary for workflow validation.",
			}
			data, err := yaml.Marshal(doc)
			if err != nil {
				return nil, err
			}
			if err := writeFile(d.Paths.Changes(), data); err != nil {
				return nil, err
			}
			return []string{d.Paths.Rel(d.Paths.Changes())}, nil
		},
	})
}

type mockEvent struct {
	ID         string `yaml:"id"`
	CreatedAt  string `yaml:"created_at"`
	AuthorRole string `yaml:"author_role"`
	Confidence string `yaml:"confidence"`
	Title      string `yaml:"title"`
	Summary    string `yaml:"summary"`
	MockTag    string `yaml:"mock_tag"`
}

type mockComment struct {
	Author    string `yaml:"author"`
	CreatedAt string `yaml:"created_at"`
	MockTag   string `yaml:"mock_tag"`
	Comment   string `yaml:"comment"`
}

func (d *Dispatcher) observer(ctx context.Context, item layer.WorkItem) (Output, error) {
	if item.Role == "" {
		return Output{}, apperr.MissingArgument("role is required for observers in mock mode")
	}
	now := d.now()
	created := now.UTC().Format(time.RFC3339)
	return d.publish(ctx, change{
		base:    d.Config.WorkerBranch,
		branch:  d.Config.BranchName(layer.Observers, Timestamp(now)),
		message: d.commitMessage("observer", "mock event"),
		title:   d.title("Observer findings"),
		apply: func() ([]string, error) {
			var paths []string
			for i, focus := range []string{"validation", "implementation check"} {
				ev := mockEvent{
					ID:         d.id(),
					CreatedAt:  created,
					AuthorRole: item.Role,
					Confidence: "medium",
					Title:      fmt.Sprintf("Mock event %d (%s)", i+1, d.Config.Tag),
					Summary:    "Mock observer finding for workflow " + focus + ".",
					MockTag:    d.Config.Tag,
				}
				p := filepath.Join(d.Paths.EventsPending(), fmt.Sprintf("mock-%s-%s.yml", d.Config.Tag, ev.ID))
				if err := writeYAML(p, ev); err != nil {
					return nil, err
				}
				paths = append(paths, d.Paths.Rel(p))
			}
			if d.Schedule != nil {
				for _, persona := range d.Schedule.For(layer.Innovators).EnabledRoles() {
					p := filepath.Join(d.Paths.InnovatorComments(persona),
						fmt.Sprintf("observer-%s-%s.yml", item.Role, d.Config.Tag))
					c := mockComment{
						Author:    item.Role,
						CreatedAt: created,
						MockTag:   d.Config.Tag,
						Comment:   "Mock observer feedback for workflow validation.",
					}
					if err := writeYAML(p, c); err != nil {
						return nil, err
					}
					paths = append(paths, d.Paths.Rel(p))
				}
			}
			return paths, nil
		},
	})
}

type mockRequirement struct {
	ID                   string   `yaml:"id"`
	Label                string   `yaml:"label"`
	Title                string   `yaml:"title"`
	Priority             string   `yaml:"priority,omitempty"`
	RequiresDeepAnalysis bool     `yaml:"requires_deep_analysis"`
	DeepAnalysisReason   string   `yaml:"deep_analysis_reason,omitempty"`
	SourceEvents         []string `yaml:"source_events"`
	MockTag              string   `yaml:"mock_tag"`
}

func (d *Dispatcher) decider(ctx context.Context, item layer.WorkItem) (Output, error) {
	if item.Role == "" {
		return Output{}, apperr.MissingArgument("role is required for deciders in mock mode")
	}
	if len(d.Config.IssueLabels) == 0 {
		return Output{}, apperr.Validation("no issue labels configured")
	}
	now := d.now()
	plannerID, implID := d.id(), d.id()
	return d.publish(ctx, change{
		base:    d.Config.WorkerBranch,
		branch:  d.Config.BranchName(layer.Deciders, Timestamp(now)),
		message: d.commitMessage("decider", "mock requirements"),
		title:   d.title("Decider triage"),
		body: fmt.Sprintf("Mock decider triage.\n\n- planner requirement: `%s`\n- implementer requirement: `%s`\n\nMock tag: `%s`",
			plannerID, implID, d.Config.Tag),
		apply: func() ([]string, error) {
			return d.triage(plannerID, implID)
		},
	})
}

// triage moves tagged pending events to decided, writes one planner and one
// implementer requirement from them, and stamps each event with the id of the
// requirement that consumed it.
func (d *Dispatcher) triage(plannerID, implID string) ([]string, error) {
	pattern := fmt.Sprintf("mock-%s-*.yml", d.Config.Tag)
	pending, err := filepath.Glob(filepath.Join(d.Paths.EventsPending(), pattern))
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, p := range pending {
		dest := filepath.Join(d.Paths.EventsDecided(), filepath.Base(p))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, err
		}
		if err := os.Rename(p, dest); err != nil {
			return nil, fmt.Errorf("move event: %w", err)
		}
		paths = append(paths, d.Paths.Rel(p))
	}

	decided, err := filepath.Glob(filepath.Join(d.Paths.EventsDecided(), pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(decided)
	if len(decided) < 2 {
		return nil, apperr.Validation("mock decider needs at least 2 decided events tagged %s, found %d", d.Config.Tag, len(decided))
	}
	ids := make([]string, len(decided))
	for i, p := range decided {
		var ev mockEvent
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &ev); err != nil || ev.ID == "" {
			return nil, apperr.ParseError{What: "event " + d.Paths.Rel(p), Details: "missing id"}
		}
		ids[i] = ev.ID
	}

	label := d.Config.IssueLabels[0]
	reqs := []struct {
		file string
		req  mockRequirement
	}{
		{
			file: fmt.Sprintf("planner-%s.yml", d.Config.Tag),
			req: mockRequirement{
				ID:                   plannerID,
				Label:                label,
				Title:                "Mock planner requirement",
				Priority:             "high",
				RequiresDeepAnalysis: true,
				DeepAnalysisReason:   "Mock requirement exercising the planner path.",
				SourceEvents:         ids[:1],
				MockTag:              d.Config.Tag,
			},
		},
		{
			file: fmt.Sprintf("impl-%s.yml", d.Config.Tag),
			req: mockRequirement{
				ID:                   implID,
				Label:                label,
				Title:                "Mock implementer requirement",
				Priority:             "medium",
				RequiresDeepAnalysis: false,
				SourceEvents:         ids[1:],
				MockTag:              d.Config.Tag,
			},
		},
	}
	for _, r := range reqs {
		p := filepath.Join(d.Paths.Requirements(), r.file)
		if err := writeYAML(p, r.req); err != nil {
			return nil, err
		}
		paths = append(paths, d.Paths.Rel(p))
	}

	for i, p := range decided {
		owner := implID
		if i == 0 {
			owner = plannerID
		}
		if err := stampRequirementID(p, owner); err != nil {
			d.logger().Warnw("could not stamp requirement id", "event", d.Paths.Rel(p), "error", err)
		}
		paths = append(paths, d.Paths.Rel(p))
	}
	return paths, nil
}

// stampRequirementID sets requirement_id in the event document at path,
// keeping the other fields in place.
func stampRequirementID(path, id string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return errors.New("event is not a mapping")
	}
	m := doc.Content[0]
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == "requirement_id" {
			m.Content[i+1].SetString(id)
			return writeYAML(path, &doc)
		}
	}
	key := &yaml.Node{}
	key.SetString("requirement_id")
	val := &yaml.Node{}
	val.SetString(id)
	m.Content = append(m.Content, key, val)
	return writeYAML(path, &doc)
}

func (d *Dispatcher) planner(ctx context.Context, item layer.WorkItem) (Output, error) {
	if item.Path == "" {
		return Output{}, apperr.MissingArgument("requirement is required for planners")
	}
	now := d.now()
	return d.publish(ctx, change{
		base:    d.Config.WorkerBranch,
		branch:  d.Config.BranchName(layer.Planners, Timestamp(now)),
		message: d.commitMessage("planner", "analysis complete"),
		title:   d.title("Planner analysis"),
		apply: func() ([]string, error) {
			data, err := os.ReadFile(item.Path)
			if err != nil {
				return nil, err
			}
			content := strings.Replace(string(data), "requires_deep_analysis: true", "requires_deep_analysis: false", 1)
			if !strings.HasSuffix(content, "\n") {
				content += "\n"
			}
			content += fmt.Sprintf("\n# Mock planner expansion\nexpanded_at: %q\nexpanded_by: mock-planner\nanalysis_details: |\n  Mock deep analysis for %s.\n  Requirement is ready for implementation.\n",
				now.UTC().Format(time.RFC3339), d.Config.Tag)
			if err := os.WriteFile(item.Path, []byte(content), 0o644); err != nil {
				return nil, err
			}
			return []string{d.Paths.Rel(item.Path)}, nil
		},
	})
}

func isMockID(id string) bool {
	if len(id) != 6 {
		return false
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func (d *Dispatcher) implementer(ctx context.Context, item layer.WorkItem, opts dispatch.Options) (out Output, err error) {
	if item.Path == "" {
		return Output{}, apperr.MissingArgument("requirement is required for implementers")
	}
	h, err := requirement.ReadHeader(item.Path)
	if err != nil {
		return Output{}, err
	}
	if !layer.IsSafePathComponent(h.Label) {
		return Output{}, apperr.Validation("invalid requirement label '%s'", h.Label)
	}
	if !d.Config.hasLabel(h.Label) {
		return Output{}, apperr.Validation("requirement label '%s' is not one of the configured issue labels", h.Label)
	}
	if !isMockID(h.ID) {
		return Output{}, apperr.Validation("requirement id '%s' must be 6 lowercase alphanumeric characters", h.ID)
	}
	base := opts.Branch
	if base == "" {
		base = d.Config.DefaultBranch
	}

	original, err := d.Git.CurrentBranch(ctx)
	if err != nil {
		return Output{}, err
	}
	defer func() {
		if rerr := d.Git.CheckoutBranch(ctx, original, false); rerr != nil {
			if err == nil {
				err = rerr
			} else {
				d.logger().Warnw("could not restore branch", "branch", original, "error", rerr)
			}
		}
	}()

	marker := filepath.Join(d.Paths.Root, ".mock-"+d.Config.Tag)
	// Implementer PRs go to human review; auto-merge is never enabled here.
	return d.publish(ctx, change{
		base:    base,
		branch:  fmt.Sprintf("%s%s-%s-%s", layer.Implementers.BranchPrefix(), h.Label, h.ID, d.Config.Tag),
		message: d.commitMessage("implementer", "mock implementation"),
		title:   d.title("Implementation: " + h.Label),
		body: fmt.Sprintf("Mock implementation of requirement `%s`.\n\nMock tag: `%s`",
			d.Paths.Rel(item.Path), d.Config.Tag),
		apply: func() ([]string, error) {
			stamp := fmt.Sprintf("mock implementation %s at %s\n", h.ID, d.now().UTC().Format(time.RFC3339))
			if err := os.WriteFile(marker, []byte(stamp), 0o644); err != nil {
				return nil, err
			}
			return []string{d.Paths.Rel(marker)}, nil
		},
	})
}

type mockIdea struct {
	Persona   string `yaml:"persona"`
	CreatedAt string `yaml:"created_at"`
	MockTag   string `yaml:"mock_tag"`
	Title     string `yaml:"title"`
	Summary   string `yaml:"summary"`
}

func (d *Dispatcher) innovator(ctx context.Context, item layer.WorkItem) (Output, error) {
	if item.Role == "" {
		return Output{}, apperr.MissingArgument("role is required for innovators in mock mode")
	}
	persona := item.Role
	idea := d.Paths.InnovatorIdea(persona)
	now := d.now()
	// Existence is checked on the worker branch, after checkout.
	var exists bool
	return d.publish(ctx, change{
		base:   d.Config.WorkerBranch,
		branch: d.Config.BranchName(layer.Innovators, Timestamp(now)),
		apply: func() ([]string, error) {
			_, err := os.Stat(idea)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			exists = err == nil
			if exists {
				if err := os.Remove(idea); err != nil {
					return nil, err
				}
				return []string{d.Paths.Rel(idea)}, nil
			}
			err = writeYAML(idea, mockIdea{
				Persona:   persona,
				CreatedAt: now.UTC().Format(time.RFC3339),
				MockTag:   d.Config.Tag,
				Title:     "Mock idea from " + persona,
				Summary:   "Mock innovator idea for workflow validation.",
			})
			if err != nil {
				return nil, err
			}
			return []string{d.Paths.Rel(idea)}, nil
		},
		describe: func() (string, string) {
			phase, message := "creation", "mock idea"
			if exists {
				phase, message = "refinement", "mock proposal"
			}
			return d.commitMessage("innovator", message), d.title(fmt.Sprintf("Innovator %s %s", persona, phase))
		},
	})
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}
