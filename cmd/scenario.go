package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	sim "github.com/section-sim/section-sim/sim"
)

// Scenario is the YAML shape of a run definition: one section, a fleet
// of trains and an optional disruption feed.
type Scenario struct {
	Section     SectionConfig    `yaml:"section"`
	Trains      []TrainConfig    `yaml:"trains"`
	Disruptions []sim.Disruption `yaml:"disruptions"`
}

type SectionConfig struct {
	ID         string       `yaml:"id"`
	HeadwayMin float64      `yaml:"headway_min"`
	Blocks     []*sim.Block `yaml:"blocks"`
}

type TrainConfig struct {
	ID           string        `yaml:"id"`
	Priority     int           `yaml:"priority"`
	MaxSpeedKMPH float64       `yaml:"max_speed_kmph"`
	DwellMin     float64       `yaml:"dwell_min"`
	Route        []string      `yaml:"route"`
	Direction    sim.Direction `yaml:"direction"`
	DepTimeMin   float64       `yaml:"dep_time_min"`
	Type         string        `yaml:"type"`
}

// LoadScenario reads and validates a scenario file. All configuration
// errors surface here, before any simulation starts.
func LoadScenario(path string) (*sim.Section, []*sim.Train, []sim.Disruption, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, nil, nil, fmt.Errorf("parse scenario: %w", err)
	}

	section, err := sim.NewSection(sc.Section.ID, sc.Section.Blocks, sc.Section.HeadwayMin)
	if err != nil {
		return nil, nil, nil, err
	}

	trains := make([]*sim.Train, 0, len(sc.Trains))
	seen := make(map[string]bool, len(sc.Trains))
	for _, tc := range sc.Trains {
		if tc.ID == "" {
			return nil, nil, nil, fmt.Errorf("train with empty id")
		}
		if seen[tc.ID] {
			return nil, nil, nil, fmt.Errorf("duplicate train id %s", tc.ID)
		}
		seen[tc.ID] = true
		if tc.MaxSpeedKMPH <= 0 {
			return nil, nil, nil, fmt.Errorf("train %s: max speed must be > 0", tc.ID)
		}
		if tc.Direction != sim.DirectionUp && tc.Direction != sim.DirectionDown {
			return nil, nil, nil, fmt.Errorf("train %s: direction must be up or down, got %q", tc.ID, tc.Direction)
		}
		if err := section.ValidateRoute(tc.Route); err != nil {
			return nil, nil, nil, fmt.Errorf("train %s: %w", tc.ID, err)
		}
		trains = append(trains, &sim.Train{
			ID:           tc.ID,
			Priority:     tc.Priority,
			MaxSpeedKMPH: tc.MaxSpeedKMPH,
			DwellMin:     tc.DwellMin,
			Route:        tc.Route,
			Direction:    tc.Direction,
			DepTimeMin:   tc.DepTimeMin,
			Type:         tc.Type,
		})
	}

	return section, trains, sc.Disruptions, nil
}
