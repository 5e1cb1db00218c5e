package requirement

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/akitorahayashi/jlo/internal/layer"
)

type eventDoc struct {
	ID string `yaml:"id"`
}

// Clean removes a consumed requirement and the event files it was built
// from. It returns the removed paths relative to the repository root, sorted.
func Clean(paths layer.Paths, reqPath string) ([]string, error) {
	targets, err := Targets(paths, reqPath)
	if err != nil {
		return nil, err
	}
	return Remove(paths, targets)
}

// Targets resolves the files Clean would remove for reqPath without touching
// the tree: the requirement itself plus every source event it lists. A
// source event that cannot be found is an error.
func Targets(paths layer.Paths, reqPath string) ([]string, error) {
	h, err := ReadHeader(reqPath)
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, id := range h.SourceEvents {
		wanted[id] = true
	}
	targets := []string{reqPath}
	if len(wanted) > 0 {
		found, err := findEvents(paths.EventsDir(), wanted)
		if err != nil {
			return nil, err
		}
		for id := range wanted {
			p, ok := found[id]
			if !ok {
				return nil, fmt.Errorf("source event '%s' of %s not found", id, paths.Rel(reqPath))
			}
			targets = append(targets, p)
		}
	}
	sort.Strings(targets)
	return targets, nil
}

// Remove deletes targets, ignoring ones already gone, and returns them
// relative to the repository root, sorted and deduplicated.
func Remove(paths layer.Paths, targets []string) ([]string, error) {
	seen := map[string]bool{}
	var removed []string
	for _, p := range targets {
		rel := paths.Rel(p)
		if seen[rel] {
			continue
		}
		seen[rel] = true
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", rel, err)
		}
		removed = append(removed, rel)
	}
	sort.Strings(removed)
	return removed, nil
}

func findEvents(root string, wanted map[string]bool) (map[string]string, error) {
	found := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".yml" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var doc eventDoc
		if yaml.Unmarshal(data, &doc) != nil {
			return nil
		}
		if wanted[doc.ID] {
			found[doc.ID] = path
		}
		return nil
	})
	return found, err
}
