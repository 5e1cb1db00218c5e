package layer

import (
	"fmt"

	"github.com/akitorahayashi/jlo/internal/apperr"
)

// WorkItem is one unit of dispatch within a layer run. Multi-role layers
// carry a Role, issue-driven layers carry a requirement Path, and the narrator
// carries neither.
type WorkItem struct {
	Layer Layer
	Role  string
	Path  string
}

// RoleItem builds a work item for a multi-role layer.
func RoleItem(l Layer, role string) (WorkItem, error) {
	if l.IsSingleRole() {
		return WorkItem{}, apperr.Validation("layer %s does not take roles", l)
	}
	if err := ValidateRole(role); err != nil {
		return WorkItem{}, err
	}
	return WorkItem{Layer: l, Role: role}, nil
}

// RequirementItem builds a work item for an issue-driven layer.
func RequirementItem(l Layer, path string) (WorkItem, error) {
	if !l.IsIssueDriven() {
		return WorkItem{}, apperr.Validation("layer %s does not consume requirements", l)
	}
	if path == "" {
		return WorkItem{}, apperr.MissingArgument("requirement path is required for %s", l)
	}
	return WorkItem{Layer: l, Path: path}, nil
}

// NarratorItem is the single implicit narrator work item.
func NarratorItem() WorkItem {
	return WorkItem{Layer: Narrator}
}

// String renders the item as used in logs and the run ledger.
func (w WorkItem) String() string {
	switch {
	case w.Role != "":
		return fmt.Sprintf("%s/%s", w.Layer, w.Role)
	case w.Path != "":
		return fmt.Sprintf("%s:%s", w.Layer, w.Path)
	default:
		return w.Layer.String()
	}
}
