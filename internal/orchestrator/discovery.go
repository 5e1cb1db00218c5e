package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/requirement"
)

// Discover resolves the work items for a request. An empty, nil-error result
// means there is nothing to do.
func (o *Orchestrator) Discover(req Request) ([]layer.WorkItem, error) {
	l := req.Layer
	switch {
	case l == layer.Narrator:
		return []layer.WorkItem{layer.NarratorItem()}, nil
	case l.IsIssueDriven():
		return o.discoverRequirements(req)
	default:
		return o.discoverRoles(req)
	}
}

func (o *Orchestrator) discoverRoles(req Request) ([]layer.WorkItem, error) {
	l := req.Layer
	if req.Role != "" {
		item, err := layer.RoleItem(l, req.Role)
		if err != nil {
			return nil, err
		}
		if err := o.checkRoleDir(l, req.Role); err != nil {
			return nil, err
		}
		return []layer.WorkItem{item}, nil
	}
	if req.Mock {
		return nil, apperr.MissingArgument("--role is required for %s in mock mode", l)
	}
	sched, err := o.loadSchedule()
	if err != nil {
		return nil, err
	}
	if !sched.Enabled {
		o.logger().Infow("schedule disabled", "layer", l.String())
		return nil, nil
	}
	var items []layer.WorkItem
	for _, role := range sched.For(l).EnabledRoles() {
		item, err := layer.RoleItem(l, role)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// checkRoleDir requires roles/<role>/ to exist whenever the layer has a roles
// directory at all.
func (o *Orchestrator) checkRoleDir(l layer.Layer, role string) error {
	container := o.Paths.RolesDir(l)
	if _, err := os.Stat(container); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	info, err := os.Stat(filepath.Join(container, role))
	if err != nil || !info.IsDir() {
		return apperr.Validation("role '%s' not found under %s", role, o.Paths.Rel(container))
	}
	return nil
}

func (o *Orchestrator) loadSchedule() (*config.Schedule, error) {
	if o.Schedule != nil {
		return o.Schedule, nil
	}
	sched, err := config.LoadSchedule(o.Paths.Root)
	if err != nil {
		return nil, err
	}
	o.Schedule = sched
	return sched, nil
}

func (o *Orchestrator) discoverRequirements(req Request) ([]layer.WorkItem, error) {
	l := req.Layer
	var paths []string
	if req.Requirement != "" {
		p, err := requirement.Resolve(o.Paths, req.Requirement)
		if err != nil {
			return nil, err
		}
		h, err := requirement.ReadHeader(p)
		if err != nil {
			return nil, err
		}
		if h.RoutesTo() != l {
			return nil, apperr.Validation("requirement %s routes to %s, not %s", o.Paths.Rel(p), h.RoutesTo(), l)
		}
		paths = []string{p}
	} else {
		found, err := requirement.Discover(o.Paths.Requirements(), l)
		if err != nil {
			return nil, err
		}
		paths = found
	}
	items := make([]layer.WorkItem, 0, len(paths))
	for _, p := range paths {
		item, err := layer.RequirementItem(l, p)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// hasPendingEvents reports whether events/pending holds any .yml file.
func (o *Orchestrator) hasPendingEvents() (bool, error) {
	entries, err := os.ReadDir(o.Paths.EventsPending())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("list pending events: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".yml" {
			return true, nil
		}
	}
	return false, nil
}
