// Package roster loads the routing team directory and seeds it into a
// triage.Roster at startup.
package roster

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/docket/internal/triage"
)

//go:embed default_roster.yaml
var defaultRoster []byte

var errEmptyRoster = errors.New("roster has no teams")

type file struct {
	Teams []triage.Team `yaml:"teams"`
}

// Default returns the built-in roster.
func Default() ([]triage.Team, error) {
	teams, err := Parse(defaultRoster)
	if err != nil {
		return nil, fmt.Errorf("default roster: %w", err)
	}
	return teams, nil
}

// Load reads a roster YAML file. An empty path returns the built-in roster.
func Load(path string) ([]triage.Team, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	teams, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return teams, nil
}

// Parse decodes and normalizes a roster document. Unknown keys, missing or
// duplicate IDs are rejected. Skills are trimmed, lowercased and de-duplicated;
// a missing name falls back to the ID. Workload counters in the file are ignored.
func Parse(data []byte) ([]triage.Team, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errEmptyRoster
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(f.Teams) == 0 {
		return nil, errEmptyRoster
	}

	seen := make(map[string]struct{}, len(f.Teams))
	out := make([]triage.Team, 0, len(f.Teams))
	for i, t := range f.Teams {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("team %d: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("team %d: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}

		name := strings.TrimSpace(t.Name)
		if name == "" {
			name = id
		}
		out = append(out, triage.Team{ID: id, Name: name, Skills: normalizeSkills(t.Skills)})
	}
	return out, nil
}

func normalizeSkills(skills []string) []string {
	seen := make(map[string]struct{}, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Seed upserts teams into r in order. Existing workload counters are kept.
func Seed(ctx context.Context, r triage.Roster, teams []triage.Team, logger log.Logger) error {
	if logger == nil {
		logger = log.Nop()
	}
	for i := range teams {
		if err := r.UpsertTeam(ctx, &teams[i]); err != nil {
			return fmt.Errorf("seed team %s: %w", teams[i].ID, err)
		}
	}
	logger.Info(ctx, "roster seeded", "teams", len(teams))
	return nil
}
