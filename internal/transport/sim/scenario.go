package sim

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/lobby/internal/transport"
)

// yamlScenarioFile is the top-level YAML structure for scenario files.
type yamlScenarioFile struct {
	Scenario yamlScenario `yaml:"scenario"`
}

type yamlScenario struct {
	AutoConnectMaster bool         `yaml:"auto_connect_master"`
	Regions           []yamlRegion `yaml:"regions"`
}

type yamlRegion struct {
	Code    string     `yaml:"code"`
	Address string     `yaml:"address"`
	Latency *int       `yaml:"latency_ms"`
	Rooms   []yamlRoom `yaml:"rooms"`
}

type yamlRoom struct {
	Name       string `yaml:"name"`
	MaxPlayers int    `yaml:"max_players"`
	Players    int    `yaml:"players"`
	Visible    *bool  `yaml:"visible"`
	Open       *bool  `yaml:"open"`
}

// Scenario is the world a simulated transport serves.
type Scenario struct {
	// AutoConnectMaster makes discovery also connect to the lowest-latency
	// region's master server, the way a real networking layer may do before
	// the user has picked a region.
	AutoConnectMaster bool
	Regions           []RegionWorld
}

// RegionWorld is one region and the rooms hosted on its master server.
type RegionWorld struct {
	transport.Region
	Rooms []transport.RoomSummary
}

// Validate checks the scenario for structural consistency.
//
// Postcondition: Returns nil if valid, or an error describing every problem.
func (s *Scenario) Validate() error {
	var err error
	if len(s.Regions) == 0 {
		err = multierr.Append(err, errors.New("scenario must define at least one region"))
	}
	codes := make(map[string]bool, len(s.Regions))
	for i, r := range s.Regions {
		if strings.TrimSpace(r.Code) == "" {
			err = multierr.Append(err, fmt.Errorf("region %d: code must not be empty", i))
			continue
		}
		if codes[r.Code] {
			err = multierr.Append(err, fmt.Errorf("region %q: duplicate code", r.Code))
		}
		codes[r.Code] = true

		names := make(map[string]bool, len(r.Rooms))
		for _, room := range r.Rooms {
			switch {
			case strings.TrimSpace(room.Name) == "":
				err = multierr.Append(err, fmt.Errorf("region %q: room name must not be empty", r.Code))
			case names[room.Name]:
				err = multierr.Append(err, fmt.Errorf("region %q: duplicate room %q", r.Code, room.Name))
			case room.MaxPlayers < 0 || room.PlayerCount < 0:
				err = multierr.Append(err, fmt.Errorf("region %q: room %q has negative counts", r.Code, room.Name))
			}
			names[room.Name] = true
		}
	}
	return err
}

// Region returns the region with the given code.
func (s *Scenario) Region(code string) (*RegionWorld, bool) {
	for i := range s.Regions {
		if s.Regions[i].Code == code {
			return &s.Regions[i], true
		}
	}
	return nil, false
}

// LoadScenarioFromFile reads and validates a scenario YAML file.
//
// Precondition: path must point to a valid YAML scenario file.
// Postcondition: Returns a validated Scenario or a non-nil error.
func LoadScenarioFromFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file %s: %w", path, err)
	}
	return LoadScenarioFromBytes(data)
}

// LoadScenarioFromBytes parses and validates a scenario from YAML bytes.
// A region without latency_ms has unknown latency; a room without visible
// or open flags is visible and open.
func LoadScenarioFromBytes(data []byte) (*Scenario, error) {
	var file yamlScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}

	sc := convertYAMLScenario(file.Scenario)
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("validating scenario: %w", err)
	}
	return sc, nil
}

func convertYAMLScenario(ys yamlScenario) *Scenario {
	sc := &Scenario{
		AutoConnectMaster: ys.AutoConnectMaster,
		Regions:           make([]RegionWorld, 0, len(ys.Regions)),
	}
	for _, yr := range ys.Regions {
		rw := RegionWorld{
			Region: transport.Region{
				Code:    strings.TrimSpace(yr.Code),
				Address: yr.Address,
				Latency: transport.UnknownLatency,
			},
		}
		if yr.Latency != nil {
			rw.Latency = *yr.Latency
		}
		for _, room := range yr.Rooms {
			rw.Rooms = append(rw.Rooms, transport.RoomSummary{
				Name:        strings.TrimSpace(room.Name),
				Visible:     boolOr(room.Visible, true),
				Open:        boolOr(room.Open, true),
				MaxPlayers:  room.MaxPlayers,
				PlayerCount: room.Players,
			})
		}
		sc.Regions = append(sc.Regions, rw)
	}
	return sc
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
