// Package provision seeds escalation policies and on-call schedules
// from a YAML file and keeps them in sync while the server runs.
// Changes only affect alerts created after the reload: in-flight
// alerts keep the policy snapshot they were created with.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// File is the top-level provisioning document.
type File struct {
	Policies  []PolicyConfig   `yaml:"policies"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// PolicyConfig is one escalation policy. Durations are strings in Go
// duration syntax ("5m", "1h30m").
type PolicyConfig struct {
	Name  string       `yaml:"name"`
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig is one policy step.
type StepConfig struct {
	Wait      string              `yaml:"wait"`
	Responder models.ResponderRef `yaml:"responder"`
	Channel   string              `yaml:"channel"`
}

// ScheduleConfig is one on-call rotation.
type ScheduleConfig struct {
	Name           string    `yaml:"name"`
	Members        []string  `yaml:"members"`
	RotationPeriod string    `yaml:"rotation_period"`
	Anchor         time.Time `yaml:"anchor"`
	HandoffOverlap string    `yaml:"handoff_overlap"`
}

// Parse reads a provisioning document.
func Parse(r io.Reader) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse provisioning YAML: %w", err)
	}
	return &f, nil
}

// ParseFile reads a provisioning document from disk.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open provisioning file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (c *PolicyConfig) toModel() (*models.EscalationPolicy, error) {
	policy := &models.EscalationPolicy{Name: c.Name}
	for i, sc := range c.Steps {
		wait, err := parseDuration(sc.Wait)
		if err != nil {
			return nil, fmt.Errorf("policy %q step %d: %w", c.Name, i, err)
		}
		policy.Steps = append(policy.Steps, models.PolicyStep{
			Wait:      wait,
			Responder: sc.Responder,
			Channel:   models.ChannelKind(sc.Channel),
		})
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy %q: %w: %v", c.Name, storage.ErrValidation, err)
	}
	return policy, nil
}

func (c *ScheduleConfig) toModel() (*models.OnCallSchedule, error) {
	period, err := parseDuration(c.RotationPeriod)
	if err != nil {
		return nil, fmt.Errorf("schedule %q rotation_period: %w", c.Name, err)
	}
	overlap := time.Duration(0)
	if c.HandoffOverlap != "" {
		overlap, err = parseDuration(c.HandoffOverlap)
		if err != nil {
			return nil, fmt.Errorf("schedule %q handoff_overlap: %w", c.Name, err)
		}
	}

	schedule := &models.OnCallSchedule{
		Name:           c.Name,
		Members:        c.Members,
		RotationPeriod: period,
		Anchor:         c.Anchor,
		HandoffOverlap: overlap,
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("schedule %q: %w: %v", c.Name, storage.ErrValidation, err)
	}
	return schedule, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration is required: %w", storage.ErrValidation)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, storage.ErrValidation)
	}
	return d, nil
}

// Apply upserts the document's policies and schedules into the store,
// matched by name. Returns how many entities were written.
func Apply(ctx context.Context, store storage.Storage, f *File) (int, error) {
	now := time.Now()
	applied := 0

	for _, pc := range f.Policies {
		policy, err := pc.toModel()
		if err != nil {
			return applied, err
		}

		existing, err := store.Policies().GetByName(ctx, policy.Name)
		switch {
		case err == nil:
			policy.ID = existing.ID
			policy.CreatedAt = existing.CreatedAt
			policy.UpdatedAt = now
			if err := store.Policies().Update(ctx, policy); err != nil {
				return applied, err
			}
		case errors.Is(err, storage.ErrNotFound):
			policy.ID = uuid.New().String()
			policy.CreatedAt = now
			policy.UpdatedAt = now
			if err := store.Policies().Create(ctx, policy); err != nil {
				return applied, err
			}
		default:
			return applied, err
		}
		applied++
	}

	for _, sc := range f.Schedules {
		schedule, err := sc.toModel()
		if err != nil {
			return applied, err
		}

		existing, err := store.Schedules().GetByName(ctx, schedule.Name)
		switch {
		case err == nil:
			schedule.ID = existing.ID
			schedule.CreatedAt = existing.CreatedAt
			schedule.UpdatedAt = now
			if err := store.Schedules().Update(ctx, schedule); err != nil {
				return applied, err
			}
		case errors.Is(err, storage.ErrNotFound):
			schedule.ID = uuid.New().String()
			schedule.CreatedAt = now
			schedule.UpdatedAt = now
			if err := store.Schedules().Create(ctx, schedule); err != nil {
				return applied, err
			}
		default:
			return applied, err
		}
		applied++
	}

	return applied, nil
}

// ApplyFile parses and applies a provisioning file.
func ApplyFile(ctx context.Context, store storage.Storage, path string) (int, error) {
	f, err := ParseFile(path)
	if err != nil {
		return 0, err
	}
	return Apply(ctx, store, f)
}
