package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/lobby/internal/transport"
)

const testScenarioYAML = `
scenario:
  regions:
    - code: eu
      address: eu.master.example:5055
      latency_ms: 90
      rooms:
        - name: Room1
          max_players: 4
          players: 1
        - name: Full
          max_players: 2
          players: 2
        - name: Closed
          open: false
        - name: Empty
          max_players: 4
    - code: us
      address: us.master.example:5055
      latency_ms: 40
    - code: asia
`

func testScenario(t *testing.T) *Scenario {
	t.Helper()
	sc, err := LoadScenarioFromBytes([]byte(testScenarioYAML))
	require.NoError(t, err)
	return sc
}

func TestLoadScenarioFromBytes_Valid(t *testing.T) {
	sc := testScenario(t)

	assert.False(t, sc.AutoConnectMaster)
	require.Len(t, sc.Regions, 3)
	assert.Equal(t, transport.Region{Code: "eu", Address: "eu.master.example:5055", Latency: 90}, sc.Regions[0].Region)
	assert.Len(t, sc.Regions[0].Rooms, 4)
	assert.Empty(t, sc.Regions[1].Rooms)

	asia, ok := sc.Region("asia")
	require.True(t, ok)
	assert.False(t, asia.HasLatency(), "missing latency_ms means unknown")
}

func TestLoadScenarioFromBytes_RoomDefaults(t *testing.T) {
	sc := testScenario(t)
	eu, _ := sc.Region("eu")

	assert.Equal(t, transport.RoomSummary{Name: "Room1", Visible: true, Open: true, MaxPlayers: 4, PlayerCount: 1}, eu.Rooms[0])
	assert.False(t, eu.Rooms[2].Open)
	assert.True(t, eu.Rooms[2].Visible)
}

func TestLoadScenarioFromBytes_AutoConnect(t *testing.T) {
	sc, err := LoadScenarioFromBytes([]byte(`
scenario:
  auto_connect_master: true
  regions:
    - code: eu
`))
	require.NoError(t, err)
	assert.True(t, sc.AutoConnectMaster)
}

func TestLoadScenarioFromBytes_Invalid(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want string
	}{
		"no regions": {
			yaml: "scenario:\n  regions: []\n",
			want: "at least one region",
		},
		"blank code": {
			yaml: "scenario:\n  regions:\n    - code: ' '\n",
			want: "code must not be empty",
		},
		"duplicate code": {
			yaml: "scenario:\n  regions:\n    - code: eu\n    - code: eu\n",
			want: "duplicate code",
		},
		"duplicate room": {
			yaml: "scenario:\n  regions:\n    - code: eu\n      rooms:\n        - name: a\n        - name: a\n",
			want: `duplicate room "a"`,
		},
		"blank room": {
			yaml: "scenario:\n  regions:\n    - code: eu\n      rooms:\n        - name: ''\n",
			want: "room name must not be empty",
		},
		"negative counts": {
			yaml: "scenario:\n  regions:\n    - code: eu\n      rooms:\n        - name: a\n          players: -1\n",
			want: "negative counts",
		},
		"malformed": {
			yaml: "scenario: [",
			want: "parsing scenario YAML",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadScenarioFromBytes([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadScenarioFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScenarioYAML), 0o644))

	sc, err := LoadScenarioFromFile(path)
	require.NoError(t, err)
	assert.Len(t, sc.Regions, 3)

	_, err = LoadScenarioFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
