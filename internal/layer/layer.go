package layer

import (
	"fmt"
	"strings"

	"github.com/akitorahayashi/jlo/internal/apperr"
)

// Layer is a stage in the agent pipeline.
type Layer int

const (
	Narrator Layer = iota
	Observers
	Deciders
	Planners
	Implementers
	Innovators
)

// All lists every layer in pipeline order.
var All = []Layer{Narrator, Observers, Deciders, Planners, Implementers, Innovators}

type layerInfo struct {
	dir      string
	singular string
	label    string
	single   bool
}

var infos = map[Layer]layerInfo{
	Narrator:     {dir: "narrator", singular: "narrator", label: "Narrator", single: true},
	Observers:    {dir: "observers", singular: "observer", label: "Observers"},
	Deciders:     {dir: "deciders", singular: "decider", label: "Deciders"},
	Planners:     {dir: "planners", singular: "planner", label: "Planners", single: true},
	Implementers: {dir: "implementers", singular: "implementer", label: "Implementers", single: true},
	Innovators:   {dir: "innovators", singular: "innovator", label: "Innovators"},
}

// Parse resolves a layer from its directory name, singular form or label.
func Parse(s string) (Layer, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, l := range All {
		info := infos[l]
		if key == info.dir || key == info.singular || key == strings.ToLower(info.label) {
			return l, nil
		}
	}
	return 0, apperr.Validation("unknown layer %q (expected one of %s)", s, strings.Join(Names(), ", "))
}

// Names returns the directory names of all layers.
func Names() []string {
	out := make([]string, 0, len(All))
	for _, l := range All {
		out = append(out, l.DirName())
	}
	return out
}

func (l Layer) DirName() string { return infos[l].dir }

func (l Layer) Label() string { return infos[l].label }

func (l Layer) String() string { return infos[l].dir }

// IsSingleRole reports whether the layer runs without a role dimension.
func (l Layer) IsSingleRole() bool { return infos[l].single }

// IsIssueDriven reports whether the layer consumes requirement files.
func (l Layer) IsIssueDriven() bool { return l == Planners || l == Implementers }

// BranchPrefix is the prefix of every branch produced by the layer, e.g.
// "jules-observer-".
func (l Layer) BranchPrefix() string {
	return fmt.Sprintf("jules-%s-", infos[l].singular)
}

// PromptTemplateName is the file name of the layer's prompt template.
func (l Layer) PromptTemplateName() string {
	return infos[l].dir + "_prompt.j2"
}
