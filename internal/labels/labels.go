// Package labels applies category labels from .jules/github-labels.json to
// implementer pull requests.
package labels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/forge"
	"github.com/akitorahayashi/jlo/internal/layer"
)

// Label is a catalog entry.
type Label struct {
	Name  string
	Color string
}

// Catalog maps issue label keys to their definitions.
type Catalog map[string]Label

type catalogFile struct {
	IssueLabels map[string]struct {
		Color *string `json:"color"`
	} `json:"issue_labels"`
}

// LoadCatalog reads the issue_labels object of a github-labels.json file.
// Every entry must carry a color.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Validation("missing github-labels.json: %s", path)
		}
		return nil, err
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, apperr.ParseError{What: "github-labels.json", Details: err.Error()}
	}
	if f.IssueLabels == nil {
		return nil, apperr.Validation("github-labels.json missing issue_labels object")
	}
	cat := Catalog{}
	for name, v := range f.IssueLabels {
		if v.Color == nil || *v.Color == "" {
			return nil, apperr.Validation("label '%s' missing color in github-labels.json", name)
		}
		cat[name] = Label{Name: name, Color: *v.Color}
	}
	return cat, nil
}

// ParseImplementerBranch extracts the label and requirement id from a branch
// of the form jules-implementer-<label>-<id>-<description>. Longer labels
// are tried first so hyphenated labels win over their prefixes.
func ParseImplementerBranch(branch string, cat Catalog) (label, id string, err error) {
	suffix, ok := strings.CutPrefix(branch, layer.Implementers.BranchPrefix())
	if !ok {
		return "", "", apperr.Validation("branch '%s' does not match implementer pattern", branch)
	}
	keys := make([]string, 0, len(cat))
	for k := range cat {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		rest, ok := strings.CutPrefix(suffix, k+"-")
		if !ok {
			continue
		}
		id, desc, _ := strings.Cut(rest, "-")
		if desc == "" {
			continue
		}
		if isRequirementID(id) {
			return k, id, nil
		}
	}
	return "", "", apperr.Validation("branch '%s' does not match implementer pattern '<label>-<id>-<short_description>'", branch)
}

func isRequirementID(id string) bool {
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

// Forge is the subset of the forge port label sync needs.
type Forge interface {
	PullRequestDetail(ctx context.Context, number int) (forge.PullRequestDetail, error)
	EnsureLabel(ctx context.Context, name, color string) error
	AddLabelToPullRequest(ctx context.Context, number int, label string) error
}

// Output reports what SyncCategory did.
type Output struct {
	SchemaVersion int    `json:"schema_version"`
	Applied       bool   `json:"applied"`
	SkippedReason string `json:"skipped_reason,omitempty"`
	Target        int    `json:"target"`
	Label         string `json:"label,omitempty"`
}

// SyncCategory labels an implementer pull request with the category encoded
// in its head branch. Pull requests from other branches are skipped.
func SyncCategory(ctx context.Context, f Forge, paths layer.Paths, number int) (Output, error) {
	out := Output{SchemaVersion: 1, Target: number}
	pr, err := f.PullRequestDetail(ctx, number)
	if err != nil {
		return out, err
	}
	cat, err := LoadCatalog(paths.GitHubLabels())
	if err != nil {
		return out, err
	}
	key, _, err := ParseImplementerBranch(pr.Head, cat)
	if err != nil {
		out.SkippedReason = fmt.Sprintf("head branch '%s' does not match implementer pattern", pr.Head)
		return out, nil
	}
	l := cat[key]
	if err := f.EnsureLabel(ctx, l.Name, l.Color); err != nil {
		return out, err
	}
	if err := f.AddLabelToPullRequest(ctx, number, l.Name); err != nil {
		return out, err
	}
	out.Applied = true
	out.Label = l.Name
	return out, nil
}
