// Package proposals publishes innovator proposals from
// .jules/exchange/proposals as GitHub issues.
package proposals

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/automerge"
	"github.com/akitorahayashi/jlo/internal/forge"
	"github.com/akitorahayashi/jlo/internal/git"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/logging"
)

// Proposal is an innovator proposal document.
type Proposal struct {
	ID                  string   `yaml:"id"`
	Role                string   `yaml:"role"`
	Title               string   `yaml:"title"`
	Problem             string   `yaml:"problem"`
	Introduction        string   `yaml:"introduction"`
	Importance          string   `yaml:"importance"`
	ImpactSurface       []string `yaml:"impact_surface"`
	ImplementationCost  string   `yaml:"implementation_cost"`
	ConsistencyRisks    []string `yaml:"consistency_risks"`
	VerificationSignals []string `yaml:"verification_signals"`
}

// Published records one created issue.
type Published struct {
	Role         string `json:"role"`
	ProposalPath string `json:"proposal_path"`
	IssueNumber  int    `json:"issue_number"`
	IssueURL     string `json:"issue_url"`
}

// Output reports what Publish did.
type Output struct {
	SchemaVersion int               `json:"schema_version"`
	Published     []Published       `json:"published"`
	Committed     bool              `json:"committed"`
	Pushed        bool              `json:"pushed"`
	Branch        string            `json:"branch,omitempty"`
	PRNumber      int               `json:"pr_number,omitempty"`
	PRURL         string            `json:"pr_url,omitempty"`
	AutoMerge     *automerge.Output `json:"automerge,omitempty"`
}

// Publisher turns proposals on the worker branch into issues and removes
// the published artifacts through a pull request against that branch.
type Publisher struct {
	Paths        layer.Paths
	WorkerBranch string
	Git          git.Client
	Forge        forge.Client
	Logger       *zap.SugaredLogger
	Now          func() time.Time
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

type pending struct {
	role  string
	path  string
	title string
	body  string
}

// Publish validates every proposal before creating any issue. Issues that
// were created before a forge failure still have their artifacts removed
// and committed, so a retry does not publish them twice.
func (p *Publisher) Publish(ctx context.Context) (Output, error) {
	out := Output{SchemaVersion: 1, Published: []Published{}}
	log := logging.OrNop(p.Logger)

	if err := p.Git.Fetch(ctx, "origin"); err != nil {
		return out, err
	}
	if err := p.Git.CheckoutBranch(ctx, "origin/"+p.WorkerBranch, false); err != nil {
		return out, err
	}
	files, err := discover(p.Paths.Proposals())
	if err != nil {
		return out, err
	}
	if len(files) == 0 {
		return out, nil
	}
	var todo []pending
	for _, f := range files {
		item, err := p.validate(f)
		if err != nil {
			return out, err
		}
		todo = append(todo, item)
	}

	branch := automerge.PublishProposalsPrefix + p.now().UTC().Format("20060102150405")
	if err := p.Git.CheckoutBranch(ctx, branch, true); err != nil {
		return out, err
	}
	var removed []string
	var publishErr error
	for _, item := range todo {
		issue, err := p.Forge.CreateIssue(ctx, item.title, item.body, nil)
		if err != nil {
			publishErr = err
			break
		}
		if err := p.labelIssue(ctx, issue.Number, item.role); err != nil {
			log.Warnw("could not label proposal issue", "issue", issue.Number, "role", item.role, "error", err)
		}
		rel := p.Paths.Rel(item.path)
		out.Published = append(out.Published, Published{
			Role:         item.role,
			ProposalPath: rel,
			IssueNumber:  issue.Number,
			IssueURL:     issue.URL,
		})
		if err := os.Remove(item.path); err != nil {
			publishErr = fmt.Errorf("remove %s: %w", rel, err)
			break
		}
		removed = append(removed, rel)
		log.Infow("proposal published", "role", item.role, "issue", issue.Number)
	}
	if len(removed) == 0 {
		return out, publishErr
	}

	msg := fmt.Sprintf("jules: publish %d innovator proposal(s)", len(removed))
	if _, err := p.Git.CommitFiles(ctx, msg, removed); err != nil {
		return out, err
	}
	out.Committed = true
	if err := p.Git.PushBranch(ctx, branch, false); err != nil {
		return out, err
	}
	out.Pushed = true
	out.Branch = branch

	pr, err := p.Forge.CreatePullRequest(ctx, branch, p.WorkerBranch, "Publish innovator proposals", publishedBody(out.Published))
	if err != nil {
		return out, err
	}
	out.PRNumber, out.PRURL = pr.Number, pr.URL
	am, err := automerge.Apply(ctx, p.Forge, pr.Number)
	if err != nil {
		log.Warnw("auto-merge not enabled", "pr", pr.Number, "error", err)
	} else {
		out.AutoMerge = &am
	}
	return out, publishErr
}

// labelIssue tags an issue with innovator/<role>. New labels get no color so
// the forge picks one.
func (p *Publisher) labelIssue(ctx context.Context, number int, role string) error {
	label := "innovator/" + role
	if err := p.Forge.EnsureLabel(ctx, label, ""); err != nil {
		return err
	}
	return p.Forge.AddLabelToIssue(ctx, number, label)
}

func discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yml" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Publisher) validate(path string) (pending, error) {
	rel := p.Paths.Rel(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return pending{}, err
	}
	var doc Proposal
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return pending{}, apperr.Validation("invalid YAML in proposal %s: %v", rel, err)
	}
	role := strings.TrimSpace(doc.Role)
	if role == "" {
		return pending{}, apperr.Validation("proposal missing 'role': %s", rel)
	}
	if err := layer.ValidateRole(role); err != nil {
		return pending{}, apperr.Validation("invalid proposal role '%s' in %s", role, rel)
	}
	stem := strings.TrimSuffix(filepath.Base(path), ".yml")
	if seg := RoleSegment(role); !strings.HasPrefix(stem, seg+"-") {
		return pending{}, apperr.Validation("proposal filename must start with '%s-' (role '%s'): %s", seg, role, rel)
	}
	if strings.TrimSpace(doc.Title) == "" {
		return pending{}, apperr.Validation("proposal missing title: %s", rel)
	}
	required := []struct {
		field   string
		missing bool
	}{
		{"problem", strings.TrimSpace(doc.Problem) == ""},
		{"introduction", strings.TrimSpace(doc.Introduction) == ""},
		{"importance", strings.TrimSpace(doc.Importance) == ""},
		{"implementation_cost", strings.TrimSpace(doc.ImplementationCost) == ""},
		{"impact_surface", len(doc.ImpactSurface) == 0},
		{"consistency_risks", len(doc.ConsistencyRisks) == 0},
		{"verification_signals", len(doc.VerificationSignals) == 0},
	}
	for _, r := range required {
		if r.missing {
			return pending{}, apperr.Validation("proposal missing '%s': %s", r.field, rel)
		}
	}
	return pending{
		role:  role,
		path:  path,
		title: fmt.Sprintf("[innovator/%s] %s", role, strings.TrimSpace(doc.Title)),
		body:  issueBody(doc, role),
	}, nil
}

func issueBody(doc Proposal, role string) string {
	var b strings.Builder
	section := func(name, content string) {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, content)
	}
	section("Problem", strings.TrimSpace(doc.Problem))
	section("Introduction", strings.TrimSpace(doc.Introduction))
	section("Why It Matters", strings.TrimSpace(doc.Importance))
	section("Impact Surface", bullets(doc.ImpactSurface))
	section("Implementation Cost", strings.TrimSpace(doc.ImplementationCost))
	section("Consistency Risks", bullets(doc.ConsistencyRisks))
	section("Verification Signals", bullets(doc.VerificationSignals))
	fmt.Fprintf(&b, "---\n\n_Published from proposal `%s` by innovator role `%s`._", doc.ID, role)
	return b.String()
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, s := range items {
		lines[i] = "- " + strings.TrimSpace(s)
	}
	return strings.Join(lines, "\n")
}

func publishedBody(items []Published) string {
	var b strings.Builder
	b.WriteString("Removes published innovator proposals.\n\n")
	for _, it := range items {
		fmt.Fprintf(&b, "- `%s` -> #%d\n", it.ProposalPath, it.IssueNumber)
	}
	return b.String()
}

// RoleSegment normalizes a role for use as a proposal filename prefix:
// lowercase, with runs of other characters collapsed to single hyphens.
func RoleSegment(role string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, role)
	var parts []string
	for _, s := range strings.Split(mapped, "-") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "-")
}
