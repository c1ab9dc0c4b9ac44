// Package config loads board definitions and reads service settings from
// the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
)

// BoardSpec is one board as written in the YAML file.
type BoardSpec struct {
	Name     string                `yaml:"name"`
	Table    string                `yaml:"table"`
	Field    domain.Classification `yaml:"field"`
	Fallback string                `yaml:"fallback,omitempty"`
	Buckets  []domain.Bucket       `yaml:"buckets"`
}

type file struct {
	Boards []BoardSpec `yaml:"boards"`
}

// Config is the validated set of boards.
type Config struct {
	Boards []domain.Board
}

// Default returns the built-in boards: the issue tracker by status, the
// member board by assignee and the roadmap by completion.
func Default() Config {
	specs := []BoardSpec{
		{
			Name:  "issues",
			Table: "issues",
			Field: domain.ByStatus,
			Buckets: []domain.Bucket{
				{ID: "not-started", Label: "Not started"},
				{ID: "todo", Label: "Todo"},
				{ID: "in-progress", Label: "In progress"},
				{ID: "done", Label: "Done"},
				{ID: "canceled", Label: "Canceled"},
			},
		},
		{
			Name:    "members",
			Table:   "issues",
			Field:   domain.ByAssignee,
			Buckets: []domain.Bucket{{ID: domain.Unassigned, Label: "Unassigned"}},
		},
		{
			Name:  "roadmap",
			Table: "phaseitems",
			Field: domain.ByCompletion,
			Buckets: []domain.Bucket{
				{ID: domain.BucketIncomplete, Label: "In progress"},
				{ID: domain.BucketComplete, Label: "Complete"},
			},
		},
	}
	cfg, err := build(specs)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Parse decodes and validates a YAML board file. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, errors.New("config: no boards defined")
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return build(f.Boards)
}

// Load reads the board file at path. An empty path yields Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(bytes.NewReader(data))
}

func build(specs []BoardSpec) (Config, error) {
	if len(specs) == 0 {
		return Config{}, errors.New("config: no boards defined")
	}
	cfg := Config{Boards: make([]domain.Board, 0, len(specs))}
	seen := map[string]struct{}{}
	for _, s := range specs {
		if s.Name == "" {
			return Config{}, errors.New("config: board name is required")
		}
		if _, dup := seen[s.Name]; dup {
			return Config{}, fmt.Errorf("config: duplicate board %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		b, err := domain.NewBoard(s.Name, s.Table, s.Field, s.Buckets, s.Fallback)
		if err != nil {
			return Config{}, err
		}
		cfg.Boards = append(cfg.Boards, b)
	}
	return cfg, nil
}

// Find returns the board with the given name.
func (c Config) Find(name string) (domain.Board, bool) {
	for _, b := range c.Boards {
		if b.Name == name {
			return b, true
		}
	}
	return domain.Board{}, false
}

// Tables returns the distinct tables the boards read, sorted.
func (c Config) Tables() []string {
	set := map[string]struct{}{}
	for _, b := range c.Boards {
		set[b.Table] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Marshal encodes the boards back to YAML.
func (c Config) Marshal() ([]byte, error) {
	f := file{Boards: make([]BoardSpec, 0, len(c.Boards))}
	for _, b := range c.Boards {
		f.Boards = append(f.Boards, BoardSpec{
			Name:     b.Name,
			Table:    b.Table,
			Field:    b.Field,
			Fallback: b.Fallback,
			Buckets:  b.Buckets,
		})
	}
	return yaml.Marshal(f)
}
