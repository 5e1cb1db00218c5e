package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/akitorahayashi/jlo/internal/layer"
)

// ErrScheduleMissing is returned when .jlo/scheduled.yml does not exist.
var ErrScheduleMissing = errors.New("schedule not found")

// Schedule models .jlo/scheduled.yml.
type Schedule struct {
	Version    int            `yaml:"version" json:"version"`
	Enabled    bool           `yaml:"enabled" json:"enabled"`
	Observers  ScheduleLayer  `yaml:"observers" json:"observers"`
	Deciders   *ScheduleLayer `yaml:"deciders" json:"deciders,omitempty"`
	Innovators *ScheduleLayer `yaml:"innovators" json:"innovators,omitempty"`
}

type ScheduleLayer struct {
	Roles []ScheduledRole `yaml:"roles" json:"roles"`
}

type ScheduledRole struct {
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// EnabledRoles returns enabled role names in declared order.
func (s *ScheduleLayer) EnabledRoles() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, r := range s.Roles {
		if r.Enabled {
			out = append(out, r.Name)
		}
	}
	return out
}

// For returns the schedule section for a multi-role layer, or nil.
func (s *Schedule) For(l layer.Layer) *ScheduleLayer {
	switch l {
	case layer.Observers:
		return &s.Observers
	case layer.Deciders:
		return s.Deciders
	case layer.Innovators:
		return s.Innovators
	}
	return nil
}

func SchedulePath(root string) string {
	if root == "" {
		root = "."
	}
	return filepath.Join(root, Dir, "scheduled.yml")
}

// LoadSchedule reads and validates the schedule under root.
func LoadSchedule(root string) (*Schedule, error) {
	path := SchedulePath(root)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrScheduleMissing, path)
		}
		return nil, err
	}
	return ScheduleFromYAML(data)
}

func ScheduleFromYAML(data []byte) (*Schedule, error) {
	var s Schedule
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("invalid schedule yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate ensures the schedule is usable.
func (s *Schedule) Validate() error {
	if s.Version != 1 {
		return fmt.Errorf("unsupported scheduled.yml version: %d (expected 1)", s.Version)
	}
	if s.Enabled && len(s.Observers.Roles) == 0 {
		return fmt.Errorf("scheduled.yml enabled=true requires at least one observer role")
	}
	sections := []struct {
		name    string
		section *ScheduleLayer
	}{{"observers", &s.Observers}, {"deciders", s.Deciders}, {"innovators", s.Innovators}}
	for _, sec := range sections {
		name, section := sec.name, sec.section
		if section == nil {
			continue
		}
		seen := map[string]bool{}
		for _, r := range section.Roles {
			if err := layer.ValidateRole(r.Name); err != nil {
				return fmt.Errorf("invalid role id '%s' in %s schedule", r.Name, name)
			}
			if seen[r.Name] {
				return fmt.Errorf("duplicate role id '%s' in %s schedule", r.Name, name)
			}
			seen[r.Name] = true
		}
	}
	return nil
}
