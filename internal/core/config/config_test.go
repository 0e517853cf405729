package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockstep-engine/lockstep/internal/core/observability/log"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, log.LevelInfo, c.Level())
}

func TestLoadOverridesDefaults(t *testing.T) {
	doc := `
log_level: debug
tick_rate: 60
hash_parallelism: 4
stages: [simulate]
profile: cpu
`
	c, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, log.LevelDebug, c.Level())
	require.Equal(t, 60, c.TickRate)
	require.Equal(t, 4, c.HashParallelism)
	require.Equal(t, []string{"simulate"}, c.Stages)
	require.Equal(t, "cpu", c.Profile)
	// Untouched fields keep their defaults.
	require.Equal(t, 1, c.HashEvery)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []string{
		"tick_rate: 0",
		"tick_rate: -5",
		"hash_parallelism: -1",
		"hash_every: -1",
		"stages: []",
		"profile: heap",
	}
	for _, doc := range cases {
		_, err := Load(strings.NewReader(doc))
		require.Error(t, err, "doc %q", doc)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	c := Default()
	c.TickRate = 120
	data, err := c.Serialize()
	require.NoError(t, err)

	var back Config
	require.NoError(t, back.Deserialize(data))
	require.Equal(t, *c, back)
}
