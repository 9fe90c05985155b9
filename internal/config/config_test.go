package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", Config{}, OverrideSet{})
	require.NoError(t, err)
	assert.Equal(t, "Logs/tracer.db", cfg.DBPath)
	assert.Equal(t, 0.4, cfg.HistogramWeight)
	assert.Equal(t, 0.5, cfg.MediumConfidenceThreshold)
	assert.Equal(t, 0.75, cfg.HighConfidenceThreshold)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: /tmp/from-file.db\n"), 0o600))

	t.Setenv("TRACER_DB_PATH", "/tmp/from-env.db")

	cfg, err := Load(path, Config{}, OverrideSet{})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.DBPath)
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	t.Setenv("TRACER_DB_PATH", "/tmp/from-env.db")

	cfg, err := Load("", Config{DBPath: "/tmp/from-flag.db"}, OverrideSet{DBPath: true})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-flag.db", cfg.DBPath)
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	cfg := Default()
	cfg.HistogramWeight = 0.9
	assert.Error(t, cfg.Validate())
}

func TestValidate_HighMustBeAtLeastMedium(t *testing.T) {
	cfg := Default()
	cfg.HighConfidenceThreshold = 0.1
	cfg.MediumConfidenceThreshold = 0.5
	assert.Error(t, cfg.Validate())
}
