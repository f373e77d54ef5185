package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, cfg *Config) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "simulation.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadRoundTrip(t *testing.T) {
	path := writeConfig(t, Default())
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "SPY", cfg.Data.RegimeSymbol)
	assert.Len(t, cfg.Strategies, 3)
	assert.Equal(t, []string{"SPY"}, cfg.Symbols())

	descs, err := cfg.Descriptors()
	require.NoError(t, err)
	require.Len(t, descs, 3)
	assert.Equal(t, "friday-condor", descs[0].ID)
	assert.Equal(t, []time.Weekday{time.Friday}, descs[0].Weekdays)
	assert.Equal(t, 90, descs[1].TargetDTE)
	assert.Equal(t, 0.16, descs[1].ShortDelta)
}

func TestLoadRejects(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("strategies: [unclosed"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("no strategies", func(t *testing.T) {
		cfg := Default()
		cfg.Strategies = nil
		_, err := Load(writeConfig(t, cfg))
		assert.Error(t, err)
	})

	t.Run("duplicate strategy IDs", func(t *testing.T) {
		cfg := Default()
		cfg.Strategies[1].ID = cfg.Strategies[0].ID
		_, err := Load(writeConfig(t, cfg))
		assert.Error(t, err)
	})

	t.Run("unknown weekday", func(t *testing.T) {
		cfg := Default()
		cfg.Strategies[0].Weekdays = []string{"freitag"}
		_, err := Load(writeConfig(t, cfg))
		assert.Error(t, err)
	})

	t.Run("unknown rule", func(t *testing.T) {
		cfg := Default()
		cfg.Strategies[0].Rule = "martingale"
		_, err := Load(writeConfig(t, cfg))
		assert.Error(t, err)
	})

	t.Run("missing regime symbol", func(t *testing.T) {
		cfg := Default()
		cfg.Data.RegimeSymbol = ""
		_, err := Load(writeConfig(t, cfg))
		assert.Error(t, err)
	})

	t.Run("bad risk config", func(t *testing.T) {
		cfg := Default()
		cfg.Risk.GroupCapsByPhase = []int{1}
		_, err := Load(writeConfig(t, cfg))
		assert.Error(t, err)
	})
}

func TestSymbolsDeduplicated(t *testing.T) {
	cfg := Default()
	cfg.Strategies[0].Symbol = "QQQ"
	assert.Equal(t, []string{"SPY", "QQQ"}, cfg.Symbols())
}

func TestParseWeekdaysCaseInsensitive(t *testing.T) {
	got, err := parseWeekdays([]string{"Monday", " FRIDAY "})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday}, got)
}
